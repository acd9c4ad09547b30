package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
)

func TestSelectEffectiveSlotPicksCurrentHour(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	deadline := now.Add(24 * time.Hour)
	recs := []model.Recommendation{
		{Priority: 1, Region: "us-east-1", HourStartUTC: now.Add(-20 * time.Minute)},
		{Priority: 2, Region: "eu-west-1", HourStartUTC: now.Add(time.Hour)},
	}
	effective, rest := selectEffectiveSlot(recs, now, deadline)
	require.NotNil(t, effective, "expected the slot within the past hour to be effective")
	assert.Equal(t, "us-east-1", effective.Region)
	require.Len(t, rest, 1, "expected the future slot to remain as a fallback candidate")
	assert.Equal(t, "eu-west-1", rest[0].Region)
}

func TestSelectEffectiveSlotNoCurrentSlotPicksTopPriorityFuture(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	deadline := now.Add(24 * time.Hour)
	recs := []model.Recommendation{
		{Priority: 1, Region: "us-east-1", HourStartUTC: now.Add(2 * time.Hour)},
		{Priority: 2, Region: "eu-west-1", HourStartUTC: now.Add(5 * time.Hour)},
	}
	effective, rest := selectEffectiveSlot(recs, now, deadline)
	require.NotNil(t, effective, "expected the top-priority future slot to be effective, to be deferred to")
	assert.Equal(t, "us-east-1", effective.Region)
	require.Len(t, rest, 1, "expected the remaining future slot as a fallback candidate")
	assert.Equal(t, "eu-west-1", rest[0].Region)
}

// TestSelectEffectiveSlotHonorsPriorityOverCurrentHour is end-to-end scenario
// 3: the plan's top pick is a clean future slot while a dirtier, lower
// priority slot happens to be current. The clean future slot must remain
// effective so the dispatcher defers to it rather than forwarding to the
// region the plan ranked worse.
func TestSelectEffectiveSlotHonorsPriorityOverCurrentHour(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	deadline := now.Add(24 * time.Hour)
	recs := []model.Recommendation{
		{Priority: 1, Region: "eu-west-1", HourStartUTC: now.Add(30 * time.Minute)},
		{Priority: 2, Region: "us-east-1", HourStartUTC: now.Add(-30 * time.Minute)},
	}
	effective, rest := selectEffectiveSlot(recs, now, deadline)
	require.NotNil(t, effective)
	assert.Equal(t, "eu-west-1", effective.Region, "the plan's top-ranked slot must win even though it isn't current yet")
	require.Len(t, rest, 1)
	assert.Equal(t, "us-east-1", rest[0].Region)
}

func TestSelectEffectiveSlotElapsedOverAnHourIsNotEffective(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	deadline := now.Add(24 * time.Hour)
	recs := []model.Recommendation{
		{Priority: 1, Region: "us-east-1", HourStartUTC: now.Add(-90 * time.Minute)},
	}
	effective, rest := selectEffectiveSlot(recs, now, deadline)
	assert.Nil(t, effective, "a slot more than 1h in the past should not be effective")
	assert.Empty(t, rest, "a past, non-effective slot should not be offered as a future fallback either")
}

func TestSelectEffectiveSlotExcludesBeyondDeadline(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	deadline := now.Add(time.Hour)
	recs := []model.Recommendation{
		{Priority: 1, Region: "us-east-1", HourStartUTC: now.Add(2 * time.Hour)},
	}
	_, rest := selectEffectiveSlot(recs, now, deadline)
	assert.Empty(t, rest, "expected a slot beyond the deadline to be excluded")
}

func TestIdempotencyKeyIsScopedPerFunctionAndRequest(t *testing.T) {
	a := idempotencyKey("fn-a", "req-1")
	b := idempotencyKey("fn-a", "req-2")
	c := idempotencyKey("fn-b", "req-1")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}
