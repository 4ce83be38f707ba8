package store

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// collectionSchema only pins the envelope shape. Records themselves are
// free-form objects so unknown keys survive.
const collectionSchema = `{
	"type": "object",
	"required": ["ruleUnitDtoList"],
	"properties": {
		"ruleUnitDtoList": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"ruleId": {"type": "string"}
				}
			}
		}
	}
}`

var collectionSchemaLoader = gojsonschema.NewStringLoader(collectionSchema)

func checkCollection(data []byte) error {
	result, err := gojsonschema.Validate(collectionSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		problems = append(problems, field+": "+desc.Description())
	}
	return fmt.Errorf("invalid rules file: %s", strings.Join(problems, "; "))
}
