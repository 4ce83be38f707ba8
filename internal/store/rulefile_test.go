package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"breeditor/api/internal/rules"
)

func newRuleFile(t *testing.T, contents string) *RuleFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return NewRuleFile(path)
}

func TestRuleFileLoadAll(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[{"ruleId":"r1","ruleConfig":{"value":"10"}},{"ruleId":"r2"}]}`)

	records, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID())
	assert.Equal(t, "10", rules.ResolveValue(records[0]))
}

func TestRuleFileLoadAllStorageErrors(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"ruleUnitDtoList":`,
		"missing list":   `{"rules":[]}`,
		"list not array": `{"ruleUnitDtoList":{"ruleId":"r1"}}`,
		"non object":     `{"ruleUnitDtoList":[1,2]}`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newRuleFile(t, contents).LoadAll(context.Background())
			var storageErr *StorageError
			require.True(t, errors.As(err, &storageErr), "got %v", err)
		})
	}

	_, err := NewRuleFile(filepath.Join(t.TempDir(), "missing.json")).LoadAll(context.Background())
	var storageErr *StorageError
	assert.True(t, errors.As(err, &storageErr))
}

func TestRuleFileFindByID(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[{"ruleId":"r1"}]}`)

	record, err := s.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", record.ID())

	_, err = s.FindByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuleFileUpsertMergesAndPreservesEnvelope(t *testing.T) {
	s := newRuleFile(t, `{"version":3,"ruleUnitDtoList":[{"ruleId":"r1","ruleConfig":{"value":"10"},"owner":"risk"}],"exportedBy":"tool"}`)

	result, err := s.Upsert(context.Background(), "r1", rules.Edit{NewValue: rules.String("99")}, nil, nil)
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "99", rules.ResolveValue(result.Record))
	require.Len(t, result.Rules, 1)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(3), gjson.GetBytes(data, "version").Int())
	assert.Equal(t, "tool", gjson.GetBytes(data, "exportedBy").String())
	assert.Equal(t, "risk", gjson.GetBytes(data, "ruleUnitDtoList.0.owner").String())
	assert.Contains(t, string(data), "\n  \"ruleUnitDtoList\"")

	reloaded, err := s.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "99", rules.ResolveValue(reloaded))
}

func TestRuleFileUpsertCreatesUnknownID(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[]}`)

	result, err := s.Upsert(context.Background(), "new-1", rules.Edit{NewValue: rules.String("5"), NewCategory: rules.String("Limits")}, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "Limits", result.Record.Category())

	records, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "5", rules.ResolveValue(records[0]))
}

func TestRuleFileUpsertGuardVetoLeavesFileAlone(t *testing.T) {
	original := `{"ruleUnitDtoList":[{"ruleId":"r1","ruleConfig":{"value":"10"}}]}`
	s := newRuleFile(t, original)
	veto := errors.New("rejected")

	var seen rules.Record
	_, err := s.Upsert(context.Background(), "r1", rules.Edit{NewValue: rules.String("1")}, func(current rules.Record) error {
		seen = current
		return veto
	}, nil)
	assert.ErrorIs(t, err, veto)
	assert.Equal(t, "r1", seen.ID())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestRuleFileUpsertRejectsEmptyID(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[]}`)
	_, err := s.Upsert(context.Background(), "", rules.Edit{}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestRuleFileConcurrentUpsertsKeepEveryEdit(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[]}`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Upsert(context.Background(), fmt.Sprintf("r%d", i), rules.Edit{NewValue: rules.String(fmt.Sprint(i))}, nil, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	records, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestRuleFileCreateAndRemove(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[{"ruleId":"r1"},{"ruleId":"r2"}]}`)
	ctx := context.Background()

	record, err := rules.ParseRecord([]byte(`{"ruleId":"r3","extra":true}`))
	require.NoError(t, err)
	records, err := s.Create(ctx, record, nil)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	_, err = s.Create(ctx, record, nil)
	assert.ErrorIs(t, err, ErrDuplicateID)

	records, err = s.Remove(ctx, "r1", nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r2", records[0].ID())

	_, err = s.Remove(ctx, "r1", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuleFileReplace(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[{"ruleId":"old"}],"version":1}`)
	ctx := context.Background()

	a, _ := rules.ParseRecord([]byte(`{"ruleId":"a"}`))
	b, _ := rules.ParseRecord([]byte(`{"ruleId":"b"}`))

	_, err := s.Replace(ctx, []rules.Record{a, a}, nil)
	assert.ErrorIs(t, err, ErrDuplicateID)

	records, err := s.Replace(ctx, []rules.Record{a, b}, nil)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.GetBytes(data, "version").Int())
	assert.Equal(t, "b", gjson.GetBytes(data, "ruleUnitDtoList.1.ruleId").String())
}

func TestRuleFileEnsureAndExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rules.json")
	s := NewRuleFile(path)
	require.NoError(t, s.Ensure())

	records, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	changed, err := s.ExternalChange()
	require.NoError(t, err)
	assert.False(t, changed, "own write is not external")

	require.NoError(t, os.WriteFile(path, []byte(`{"ruleUnitDtoList":[{"ruleId":"x"}]}`), 0o644))
	changed, err = s.ExternalChange()
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.ExternalChange()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRuleFileHonoursCancelledContext(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[]}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Upsert(ctx, "r1", rules.Edit{}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRuleFileCommitRunsInWriteOrder(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[{"ruleId":"r1","ruleConfig":{"value":"0"}}]}`)

	var (
		mu        sync.Mutex
		committed []string
	)
	commit := func(records []rules.Record) {
		mu.Lock()
		defer mu.Unlock()
		committed = append(committed, rules.ResolveValue(records[0]))
	}

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Upsert(context.Background(), "r1", rules.Edit{NewValue: rules.String(fmt.Sprint(i))}, nil, commit)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	record, err := s.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, committed, 20)
	assert.Equal(t, rules.ResolveValue(record), committed[len(committed)-1],
		"last commit must see the collection that is on disk")
}

func TestRuleFileCommitSkippedOnFailure(t *testing.T) {
	s := newRuleFile(t, `{"ruleUnitDtoList":[{"ruleId":"r1"}]}`)
	ctx := context.Background()
	calls := 0
	commit := func([]rules.Record) { calls++ }

	_, err := s.Remove(ctx, "missing", commit)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Upsert(ctx, "r1", rules.Edit{}, func(rules.Record) error { return errors.New("no") }, commit)
	assert.Error(t, err)
	assert.Zero(t, calls)

	_, err = s.Remove(ctx, "r1", commit)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
