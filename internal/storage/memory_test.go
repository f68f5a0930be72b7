package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendN(t *testing.T, log Log, topic string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := log.Append(context.Background(), topic, map[string]any{"seq": i}, time.Now().UTC(), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func rangeIDs(t *testing.T, log Log, topic, cursor string, limit int64, reverse bool) []string {
	t.Helper()
	msgs, err := log.Range(context.Background(), topic, cursor, limit, reverse)
	require.NoError(t, err)
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.MessageID
	}
	return ids
}

func TestMemoryLogAppendRangeRoundTrip(t *testing.T) {
	log := NewMemoryLog(1000)
	ids := appendN(t, log, "orders", 25)

	got := rangeIDs(t, log, "orders", "", 100, false)
	assert.Equal(t, ids, got)

	length, err := log.Length(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(25), length)
}

func TestMemoryLogCursorExclusive(t *testing.T) {
	log := NewMemoryLog(1000)
	ids := appendN(t, log, "orders", 10)

	after := rangeIDs(t, log, "orders", ids[3], 100, false)
	assert.Equal(t, ids[4:], after)
	assert.NotContains(t, after, ids[3])

	before := rangeIDs(t, log, "orders", ids[3], 100, true)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, before)
	assert.NotContains(t, before, ids[3])
}

func TestMemoryLogRangeLimits(t *testing.T) {
	log := NewMemoryLog(1000)
	ids := appendN(t, log, "orders", 150)

	// Forward without cursor: oldest first, capped at 100.
	got := rangeIDs(t, log, "orders", "", 500, false)
	assert.Equal(t, ids[:100], got)

	// Reverse without cursor: newest first.
	rev := rangeIDs(t, log, "orders", "", 3, true)
	assert.Equal(t, []string{ids[149], ids[148], ids[147]}, rev)

	// Small explicit limit.
	two := rangeIDs(t, log, "orders", ids[0], 2, false)
	assert.Equal(t, ids[1:3], two)
}

func TestMemoryLogUnknownCursorReadsFromStart(t *testing.T) {
	log := NewMemoryLog(1000)
	ids := appendN(t, log, "orders", 5)

	got := rangeIDs(t, log, "orders", "msg_nosuchentry", 100, false)
	assert.Equal(t, ids, got)
}

func TestMemoryLogRangeMissingTopic(t *testing.T) {
	log := NewMemoryLog(1000)
	got, err := log.Range(context.Background(), "ghost", "", 100, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryLogCapEnforced(t *testing.T) {
	log := NewMemoryLog(10)
	ids := appendN(t, log, "orders", 37)

	length, err := log.Length(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(10), length)

	// Only the newest 10 survive, in order.
	got := rangeIDs(t, log, "orders", "", 100, false)
	assert.Equal(t, ids[27:], got)

	// A trimmed-away cursor behaves like an unknown one.
	fromTrimmed := rangeIDs(t, log, "orders", ids[0], 100, false)
	assert.Equal(t, ids[27:], fromTrimmed)
}

func TestMemoryLogTrimRetainsTail(t *testing.T) {
	log := NewMemoryLog(1000)
	ids := appendN(t, log, "orders", 20)

	removed, err := log.Trim(context.Background(), "orders", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), removed)

	got := rangeIDs(t, log, "orders", "", 100, false)
	assert.Equal(t, ids[15:], got)

	// Trimming below the current length is a no-op.
	removed, err = log.Trim(context.Background(), "orders", 50)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestMemoryLogDeleteTopic(t *testing.T) {
	log := NewMemoryLog(1000)
	appendN(t, log, "orders", 5)

	require.NoError(t, log.DeleteTopic(context.Background(), "orders"))

	length, err := log.Length(context.Background(), "orders")
	require.NoError(t, err)
	assert.Zero(t, length)

	// Deleting again is a no-op.
	require.NoError(t, log.DeleteTopic(context.Background(), "orders"))
}

func TestMemoryLogCursorAfterLastReturnsEmpty(t *testing.T) {
	log := NewMemoryLog(1000)
	ids := appendN(t, log, "orders", 3)

	got := rangeIDs(t, log, "orders", ids[2], 100, false)
	assert.Empty(t, got)
}

func TestMemoryLogConcurrentAppends(t *testing.T) {
	log := NewMemoryLog(100000)

	const (
		goroutines = 8
		perG       = 200
	)
	var wg sync.WaitGroup
	idSets := make([][]string, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				id, err := log.Append(context.Background(), "orders", map[string]any{"g": g, "i": i}, time.Now().UTC(), nil)
				assert.NoError(t, err)
				idSets[g] = append(idSets[g], id)
			}
		}(g)
	}
	wg.Wait()

	length, err := log.Length(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perG), length)

	// All ids are distinct and retrievable.
	seen := make(map[string]bool)
	cursor := ""
	for {
		page, err := log.Range(context.Background(), "orders", cursor, 100, false)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			assert.False(t, seen[m.MessageID], "duplicate id %s", m.MessageID)
			seen[m.MessageID] = true
		}
		cursor = page[len(page)-1].MessageID
	}
	assert.Len(t, seen, goroutines*perG)
}

func TestMemoryLogStats(t *testing.T) {
	log := NewMemoryLog(1000)
	appendN(t, log, "a", 3)
	appendN(t, log, "b", 2)

	stats, err := log.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, int64(2), stats.Topics)
	assert.Equal(t, int64(5), stats.Messages)
}

func TestMemoryLogPagination(t *testing.T) {
	log := NewMemoryLog(1000)
	ids := appendN(t, log, "orders", 10)

	var collected []string
	cursor := ""
	for {
		page := rangeIDs(t, log, "orders", cursor, 3, false)
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
		cursor = page[len(page)-1]
	}
	assert.Equal(t, ids, collected)
}

