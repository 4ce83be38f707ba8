package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestApplyEditConfigSlot(t *testing.T) {
	record := mustRecord(t, `{"ruleId":"r1","ruleConfig":{"value":"10"}}`)

	out, err := ApplyEdit(record, Edit{NewValue: String("99")})
	require.NoError(t, err)

	assert.JSONEq(t, `{"ruleId":"r1","ruleConfig":{"value":"99"}}`, string(out))
	assert.Equal(t, `{"ruleId":"r1","ruleConfig":{"value":"10"}}`, string(record), "input must not change")
}

func TestApplyEditPreservesUntouchedFields(t *testing.T) {
	raw := `{"ruleId":"r7","ruleType":"LIMIT","priority":3,"flags":[true,false],
		"ruleConfig":{"value":"5","unit":"days"},
		"ruleMetadata":{"ruleDescription":"old","owner":"risk"},
		"ruleCheckpointParameter":"age","ruleTemplateGroupCategory":"kyc"}`
	record := mustRecord(t, raw)

	out, err := ApplyEdit(record, Edit{NewDescription: String("new")})
	require.NoError(t, err)

	for _, path := range []string{"ruleId", "ruleType", "priority", "flags", "ruleConfig", "ruleMetadata.owner", "ruleCheckpointParameter", "ruleTemplateGroupCategory"} {
		assert.Equal(t, gjson.GetBytes(record, path).Raw, gjson.GetBytes(out, path).Raw, path)
	}
	assert.Equal(t, "new", gjson.GetBytes(out, "ruleMetadata.ruleDescription").String())
}

func TestApplyEditConfigSlotIsAuthoritative(t *testing.T) {
	record := mustRecord(t, `{"ruleId":"r8","ruleConfig":{"value":"1"},
		"operand":{"operandDefinition":[{"operandType":"CONSTANT","value":"2"},{"operandType":"CONSTANT","value":"3"}]}}`)

	var err error
	for _, value := range []string{"4", "5", "6"} {
		record, err = ApplyEdit(record, Edit{NewValue: String(value)})
		require.NoError(t, err)
		assert.Equal(t, value, gjson.GetBytes(record, "ruleConfig.value").String())
		assert.Equal(t, "3", gjson.GetBytes(record, "operand.operandDefinition.1.value").String())
	}
}

func TestApplyEditOperandFallback(t *testing.T) {
	record := mustRecord(t, `{"ruleId":"r9","operand":{"operandDefinition":[
		{"operandType":"FIELD","value":"amount"},
		{"operandType":"CONSTANT","value":"100","extra":"keep"}]}}`)

	out, err := ApplyEdit(record, Edit{NewValue: String("250")})
	require.NoError(t, err)

	assert.Equal(t, "250", gjson.GetBytes(out, "operand.operandDefinition.1.value").String())
	assert.Equal(t, "keep", gjson.GetBytes(out, "operand.operandDefinition.1.extra").String())
	assert.False(t, gjson.GetBytes(out, "ruleConfig").Exists())
	assert.Equal(t, "250", ResolveValue(out))
}

func TestApplyEditCreatesConfigSlotWhenNothingElseFits(t *testing.T) {
	record := mustRecord(t, `{"ruleId":"r10","ruleConfig":{"unit":"days"},
		"operand":{"operandDefinition":[{"operandType":"CONSTANT","value":"1"}]}}`)

	out, err := ApplyEdit(record, Edit{NewValue: String("30")})
	require.NoError(t, err)

	assert.Equal(t, "30", gjson.GetBytes(out, "ruleConfig.value").String())
	assert.Equal(t, "days", gjson.GetBytes(out, "ruleConfig.unit").String())
	assert.Equal(t, "1", gjson.GetBytes(out, "operand.operandDefinition.0.value").String())
}

func TestApplyEditValidationForcesConfigSlot(t *testing.T) {
	record := mustRecord(t, `{"ruleId":"r11","operand":{"operandDefinition":[
		{"operandType":"FIELD","value":"score"},{"operandType":"CONSTANT","value":"600"}]}}`)

	out, err := ApplyEdit(record, Edit{
		NewValue:   String("700"),
		Validation: &Validation{Kind: KindThreshold, Operator: OperatorAtLeast, Target: 650},
	})
	require.NoError(t, err)

	assert.Equal(t, "700", gjson.GetBytes(out, "ruleConfig.value").String())
	assert.Equal(t, "600", gjson.GetBytes(out, "operand.operandDefinition.1.value").String())
	assert.JSONEq(t, `{"kind":"threshold","operator":">=","target":650}`, gjson.GetBytes(out, "validation").Raw)
}

func TestApplyEditDescriptionLeavesFlatFieldStale(t *testing.T) {
	record := mustRecord(t, `{"ruleId":"r12","ruleDescription":"legacy"}`)

	out, err := ApplyEdit(record, Edit{NewDescription: String("fresh")})
	require.NoError(t, err)

	assert.Equal(t, "legacy", gjson.GetBytes(out, "ruleDescription").String())
	assert.Equal(t, "fresh", gjson.GetBytes(out, "ruleMetadata.ruleDescription").String())
	assert.Equal(t, "fresh", out.Description())
}

func TestApplyEditParameterAndCategory(t *testing.T) {
	record := mustRecord(t, `{"ruleId":"r13","ruleCheckpointParameter":"a","ruleTemplateGroupCategory":"x"}`)

	out, err := ApplyEdit(record, Edit{NewParameter: String(""), NewCategory: String("Limits")})
	require.NoError(t, err)

	assert.Equal(t, "", gjson.GetBytes(out, "ruleCheckpointParameter").String())
	assert.True(t, gjson.GetBytes(out, "ruleCheckpointParameter").Exists())
	assert.Equal(t, "Limits", out.Category())
}

func TestApplyEmptyEditIsIdentity(t *testing.T) {
	raw := `{"ruleId":"r14","ruleConfig":{"value":"1"}}`
	out, err := ApplyEdit(mustRecord(t, raw), Edit{})
	require.NoError(t, err)
	assert.Equal(t, raw, string(out))
}

func TestNewRecordDefaults(t *testing.T) {
	out, err := NewRecord("new-abc", Edit{NewValue: String("5")})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"ruleId":"new-abc",
		"ruleCheckpointParameter":"",
		"ruleTemplateGroupCategory":"",
		"ruleMetadata":{"ruleDescription":""},
		"ruleConfig":{"value":"5"}
	}`, string(out))
}

func TestEditUnmarshal(t *testing.T) {
	var edit Edit
	require.NoError(t, json.Unmarshal([]byte(`{"newValue":12,"newParam":"limit","newDescription":null,
		"validation":{"type":"threshold","operator":"<=","value":"20"}}`), &edit))

	require.NotNil(t, edit.NewValue)
	assert.Equal(t, "12", *edit.NewValue)
	require.NotNil(t, edit.NewParameter)
	assert.Equal(t, "limit", *edit.NewParameter)
	assert.Nil(t, edit.NewDescription)
	assert.Nil(t, edit.NewCategory)
	require.NotNil(t, edit.Validation)
	assert.Equal(t, Validation{Kind: KindThreshold, Operator: OperatorAtMost, Target: 20}, *edit.Validation)
}

func TestEditUnmarshalRejectsBadShapes(t *testing.T) {
	var edit Edit
	assert.Error(t, json.Unmarshal([]byte(`["x"]`), &edit))
	assert.Error(t, json.Unmarshal([]byte(`{"newCategory":{"a":1}}`), &edit))
	assert.Error(t, json.Unmarshal([]byte(`{"validation":{"kind":"threshold","operator":">=","target":"abc"}}`), &edit))
}
