package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecord(t *testing.T) {
	c := NewCollector()

	c.Record("llm.generate", 100*time.Millisecond, true)
	c.Record("llm.generate", 300*time.Millisecond, true)
	c.Record("llm.generate", 200*time.Millisecond, false)
	c.Record("llm.embed", 10*time.Millisecond, true)

	snap := c.Snapshot()
	require.Len(t, snap.Operations, 2)

	// Sorted by name: llm.embed first
	embed := snap.Operations[0]
	assert.Equal(t, "llm.embed", embed.Name)
	assert.Equal(t, int64(1), embed.Count)

	gen := snap.Operations[1]
	assert.Equal(t, "llm.generate", gen.Name)
	assert.Equal(t, int64(3), gen.Count)
	assert.Equal(t, int64(1), gen.Failures)
	assert.Equal(t, int64(100), gen.MinTimeMs)
	assert.Equal(t, int64(300), gen.MaxTimeMs)
	assert.Equal(t, int64(600), gen.TotalTimeMs)
	assert.InDelta(t, 200.0, gen.AvgTimeMs, 0.001)
}

func TestCollectorEmptySnapshot(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()
	assert.Empty(t, snap.Operations)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}
