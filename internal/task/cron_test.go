package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCronValidExpressions(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 30, 0, 0, time.Local)
	for _, expr := range []string{
		"* * * * *",
		"*/5 * * * *",
		"0 9 * * *",
		"30 15 * * 1-5",
		"0 0 1 * *",
	} {
		v := ValidateCron(expr, now)
		require.True(t, v.Valid, "expr %q: %s", expr, v.Error)
		require.NotNil(t, v.NextRunTime)
		assert.True(t, v.NextRunTime.After(now), "expr %q next run %s not after now", expr, v.NextRunTime)
	}
}

func TestValidateCronRejectsGarbage(t *testing.T) {
	for _, expr := range []string{"", "not cron", "61 * * * *", "* * * *"} {
		v := ValidateCron(expr, time.Now())
		assert.False(t, v.Valid, "expr %q", expr)
		assert.NotEmpty(t, v.Error)
	}
}

func TestDescribeCron(t *testing.T) {
	assert.Equal(t, "every minute", describeCron("* * * * *"))
	assert.Equal(t, "every 5 minutes", describeCron("*/5 * * * *"))
	assert.Equal(t, "daily at 09:00", describeCron("0 9 * * *"))
	assert.Equal(t, "weekdays at 15:30", describeCron("30 15 * * 1-5"))
	assert.Equal(t, "monthly on day 1 at 00:00", describeCron("0 0 1 * *"))
}

func TestParseAgentTarget(t *testing.T) {
	assert.True(t, ParseAgentTarget([]string{"all"}).AllActive)
	assert.True(t, ParseAgentTarget([]string{"a1", "ALL"}).AllActive)
	got := ParseAgentTarget([]string{"a2", " a1 ", ""})
	assert.False(t, got.AllActive)
	assert.Equal(t, []string{"a2", "a1"}, got.IDs)
}

func TestDecodeTaskConfigClosedUnion(t *testing.T) {
	cfg, err := DecodeTaskConfig(TypeQuoteSync, map[string]any{
		"stock_codes": []string{"600519"},
		"days":        30,
		"force_full":  true,
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.QuoteSync)
	assert.Nil(t, cfg.MarketRefresh)
	assert.Equal(t, 30, cfg.QuoteSync.Days)
	assert.True(t, cfg.QuoteSync.ForceFull)

	cfg, err = DecodeTaskConfig(TypeAgentDecision, map[string]any{"ignored": true})
	require.NoError(t, err)
	assert.Nil(t, cfg.QuoteSync)
	assert.Nil(t, cfg.MarketRefresh)

	_, err = DecodeTaskConfig(TaskType("bogus"), nil)
	assert.Error(t, err)
}
