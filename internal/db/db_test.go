package db

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

func TestSchemaDefinesAllTables(t *testing.T) {
	tables := []string{
		"applications",
		"application_status_history",
		"application_events",
		"qa_issues",
		"interruptions",
		"domain_ledger",
		"domain_policies",
	}
	for _, table := range tables {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" (", "missing table %s", table)
	}
	assert.NotContains(t, strings.ToUpper(schema), "DROP ", "schema must be safe to re-run")
}

func TestDayKey(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	assert.Equal(t, "2026-03-01", dayKey(time.Date(2026, 3, 1, 23, 30, 0, 0, loc)))
	assert.Equal(t, "2026-03-01", dayKey(types.Day(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))))
}

func TestUnmarshalJSON_NullLeavesValue(t *testing.T) {
	effort := &types.EffortDecision{Tier: types.EffortLow}
	require.NoError(t, unmarshalJSON(nil, &effort))
	require.NotNil(t, effort)
	assert.Equal(t, types.EffortLow, effort.Tier)

	var answers []types.FilledAnswer
	require.NoError(t, unmarshalJSON([]byte(`[{"label":"Name","value":"Ada"}]`), &answers))
	assert.Equal(t, []types.FilledAnswer{{Label: "Name", Value: "Ada"}}, answers)

	assert.Error(t, unmarshalJSON([]byte(`{`), &answers))
}
