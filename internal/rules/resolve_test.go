package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRecord(t *testing.T, raw string) Record {
	t.Helper()
	record, err := ParseRecord([]byte(raw))
	require.NoError(t, err)
	return record
}

func TestResolveValue(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     string
		wantKind LocationKind
	}{
		{
			name:     "config string value",
			raw:      `{"ruleId":"r1","ruleConfig":{"value":"10"}}`,
			want:     "10",
			wantKind: ConfigValue,
		},
		{
			name:     "config numeric value keeps its literal",
			raw:      `{"ruleId":"r1","ruleConfig":{"value":12.50}}`,
			want:     "12.50",
			wantKind: ConfigValue,
		},
		{
			name: "config value with L falls through to operands",
			raw: `{"ruleId":"r1","ruleConfig":{"value":"100L"},
				"operand":{"operandDefinition":[{"operandType":"CONSTANT","value":"7"}]}}`,
			want:     "7",
			wantKind: OperandConstant,
		},
		{
			name: "first qualifying constant wins",
			raw: `{"ruleId":"r2","operand":{"operandDefinition":[
				{"operandType":"CONSTANT","value":"5L"},
				{"operandType":"CONSTANT","value":"42"}]}}`,
			want:     "42",
			wantKind: OperandConstant,
		},
		{
			name: "non constant and deviation operands are skipped",
			raw: `{"ruleId":"r3","operand":{"operandDefinition":[
				{"operandType":"FIELD","value":"amount"},
				{"operandType":"CONSTANT","value":"deviationRuleV2:abc"},
				{"operandType":"CONSTANT","value":3},
				{"operandType":"CONSTANT","value":"0.25"}]}}`,
			want:     "0.25",
			wantKind: OperandConstant,
		},
		{
			name:     "config value that is an object is ignored",
			raw:      `{"ruleId":"r4","ruleConfig":{"value":{"nested":true}}}`,
			want:     "",
			wantKind: Absent,
		},
		{
			name:     "nothing resolvable",
			raw:      `{"ruleId":"r5"}`,
			want:     "",
			wantKind: Absent,
		},
		{
			name:     "legitimate value containing L is excluded",
			raw:      `{"ruleId":"r6","ruleConfig":{"value":"LOW"}}`,
			want:     "",
			wantKind: Absent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := mustRecord(t, tt.raw)
			location := Locate(record)
			assert.Equal(t, tt.want, location.Value())
			assert.Equal(t, tt.wantKind, location.Kind)
			assert.Equal(t, tt.want, ResolveValue(record))
		})
	}
}

func TestResolveValueIsPureAndIdempotent(t *testing.T) {
	raw := `{"ruleId":"r2","operand":{"operandDefinition":[{"operandType":"CONSTANT","value":"5L"},{"operandType":"CONSTANT","value":"42"}]}}`
	record := mustRecord(t, raw)

	first := ResolveValue(record)
	second := ResolveValue(record)

	assert.Equal(t, first, second)
	assert.Equal(t, raw, string(record))
}

func TestLocateReportsOperandIndex(t *testing.T) {
	record := mustRecord(t, `{"operand":{"operandDefinition":[{"operandType":"FIELD","value":"x"},{"operandType":"CONSTANT","value":"9"}]}}`)
	location := Locate(record)
	assert.Equal(t, OperandConstant, location.Kind)
	assert.Equal(t, 1, location.Index)
}

func TestRecordAccessorsFallBackToLegacyKeys(t *testing.T) {
	record := mustRecord(t, `{"ruleId":"new-1","parameter":"amount","category":"Manual","ruleDescription":"flat"}`)
	assert.Equal(t, "amount", record.Parameter())
	assert.Equal(t, "Manual", record.Category())
	assert.Equal(t, "flat", record.Description())

	nested := mustRecord(t, `{"ruleCheckpointParameter":"p","parameter":"old","ruleMetadata":{"ruleDescription":"nested"},"ruleDescription":"flat"}`)
	assert.Equal(t, "p", nested.Parameter())
	assert.Equal(t, "nested", nested.Description())
}

func TestParseRecordRejectsNonObjects(t *testing.T) {
	_, err := ParseRecord([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = ParseRecord([]byte(`{"broken"`))
	assert.ErrorIs(t, err, ErrNotObject)
}
