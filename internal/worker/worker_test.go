package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/copyleftdev/gleaner/internal/config"
	"github.com/copyleftdev/gleaner/internal/schema"
	"github.com/copyleftdev/gleaner/internal/sink"
)

func TestBaseInterval(t *testing.T) {
	assert.Equal(t, 96*time.Minute, baseInterval(15))
	assert.Equal(t, time.Hour, baseInterval(24))
	assert.Equal(t, 24*time.Hour, baseInterval(0))
	assert.Equal(t, 24*time.Hour, baseInterval(-3))
}

func TestJittered(t *testing.T) {
	base := 10 * time.Minute
	jitter := 2 * time.Minute
	for i := 0; i < 100; i++ {
		d := jittered(base, jitter, time.Minute)
		assert.GreaterOrEqual(t, d, 8*time.Minute)
		assert.Less(t, d, 12*time.Minute)
	}

	// The floor wins over a jitter that would go too low.
	d := jittered(30*time.Second, 0, time.Minute)
	assert.Equal(t, time.Minute, d)
}

func TestUntilNextMidnightUTC(t *testing.T) {
	now := time.Date(2024, 4, 5, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Hour, untilNextMidnightUTC(now))

	now = time.Date(2024, 4, 5, 0, 0, 1, 0, time.UTC)
	assert.Equal(t, 24*time.Hour-time.Second, untilNextMidnightUTC(now))
}

func TestDedupeRing(t *testing.T) {
	r := newDedupeRing(3)

	assert.True(t, r.Add("a"))
	assert.True(t, r.Add("b"))
	assert.False(t, r.Add("a"), "repeated key is not fresh")
	assert.True(t, r.Add("c"))
	assert.Equal(t, 3, r.Len())

	// "a" is the oldest entry; adding a fourth key evicts it.
	assert.True(t, r.Add("d"))
	assert.Equal(t, 3, r.Len())
	assert.True(t, r.Add("a"), "evicted key counts as fresh again")
}

func TestDedupeRing_DefaultCapacity(t *testing.T) {
	r := newDedupeRing(0)
	assert.Equal(t, 200, r.max)
}

func workerForTest(schedule config.ScheduleConfig) *Worker {
	cfg := &config.Config{Schedule: schedule}
	return New(cfg, nil, zap.NewNop())
}

func TestRecordCycle_BudgetCountsOnlyFreshEmissions(t *testing.T) {
	w := workerForTest(config.ScheduleConfig{
		DailyLimit:  2,
		DedupeField: "id",
		DedupeSize:  10,
	})

	okResult := func(ids ...string) *sink.Result {
		recs := make([]schema.Record, len(ids))
		for i, id := range ids {
			recs[i] = schema.Record{"id": id}
		}
		return &sink.Result{Status: sink.StatusOK, Records: recs}
	}

	w.rollover(time.Now().UTC())

	w.recordCycle(okResult("x"), 0)
	assert.Equal(t, 1, w.Snapshot().EmittedToday)
	assert.True(t, w.budgetLeft())

	// The same record again burns no budget.
	w.recordCycle(okResult("x"), 0)
	assert.Equal(t, 1, w.Snapshot().EmittedToday)

	// A failed run burns no budget either.
	w.recordCycle(&sink.Result{Status: sink.StatusError}, 2)
	assert.Equal(t, 1, w.Snapshot().EmittedToday)

	w.recordCycle(okResult("y"), 0)
	assert.Equal(t, 2, w.Snapshot().EmittedToday)
	assert.False(t, w.budgetLeft())

	st := w.Snapshot()
	assert.Equal(t, 4, st.Cycles)
	assert.Equal(t, 2, st.DailyLimit)
	assert.Equal(t, 0, st.LastExitCode)
}

func TestRollover_ResetsDailyCounter(t *testing.T) {
	w := workerForTest(config.ScheduleConfig{DailyLimit: 1})
	w.rollover(time.Date(2024, 4, 5, 10, 0, 0, 0, time.UTC))
	w.recordCycle(&sink.Result{Status: sink.StatusOK, Records: []schema.Record{{"k": "v"}}}, 0)
	assert.False(t, w.budgetLeft())

	w.rollover(time.Date(2024, 4, 6, 0, 0, 1, 0, time.UTC))
	assert.True(t, w.budgetLeft())
}

func TestFreshRecords_WithoutDedupeFieldEverythingIsFresh(t *testing.T) {
	w := workerForTest(config.ScheduleConfig{DailyLimit: 5})
	recs := []schema.Record{{"a": "1"}, {"a": "1"}}
	assert.Equal(t, 2, w.freshRecords(recs))
}

func TestFreshRecords_SkipsRecordsWithoutKey(t *testing.T) {
	w := workerForTest(config.ScheduleConfig{DailyLimit: 5, DedupeField: "id", DedupeSize: 10})
	recs := []schema.Record{
		{"id": "a"},
		{"other": "x"},
		{"id": int64(7)},
	}
	assert.Equal(t, 1, w.freshRecords(recs))
}

func TestZeroDailyLimitNeverBlocks(t *testing.T) {
	w := workerForTest(config.ScheduleConfig{DailyLimit: 0})
	for i := 0; i < 10; i++ {
		w.recordCycle(&sink.Result{Status: sink.StatusOK, Records: []schema.Record{{"k": "v"}}}, 0)
	}
	assert.True(t, w.budgetLeft())
}
