package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farandaway89/scada-ai-system/internal/model"
)

func sampleAt(pointID string, value float64, offset time.Duration) model.Sample {
	return model.Sample{
		PointID:   pointID,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(offset),
		Value:     value,
		Quality:   model.QualityGood,
		Status:    model.StatusOnline,
	}
}

func TestStoreAppendAndLatest(t *testing.T) {
	store := NewStore(8)

	_, ok := store.Latest("T001")
	assert.False(t, ok, "empty store has no latest sample")

	store.Append(sampleAt("T001", 82.5, 0))
	store.Append(sampleAt("T001", 83.1, time.Second))

	latest, ok := store.Latest("T001")
	require.True(t, ok)
	assert.Equal(t, 83.1, latest.Value)
	assert.Equal(t, 2, store.Len("T001"))
}

func TestStoreBounded(t *testing.T) {
	store := NewStore(3)

	for i := 0; i < 5; i++ {
		store.Append(sampleAt("T001", float64(i), time.Duration(i)*time.Second))
	}

	assert.Equal(t, 3, store.Len("T001"))

	history := store.History("T001", 0)
	require.Len(t, history, 3)
	assert.Equal(t, 2.0, history[0].Value, "oldest surviving sample")
	assert.Equal(t, 4.0, history[2].Value, "newest sample")
}

func TestStoreHistoryLimit(t *testing.T) {
	store := NewStore(10)
	for i := 0; i < 6; i++ {
		store.Append(sampleAt("P001", float64(i)*10, time.Duration(i)*time.Second))
	}

	history := store.History("P001", 2)
	require.Len(t, history, 2)
	assert.Equal(t, 40.0, history[0].Value)
	assert.Equal(t, 50.0, history[1].Value)

	assert.Nil(t, store.History("unknown", 2))
}

func TestStoreSince(t *testing.T) {
	store := NewStore(10)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		store.Append(sampleAt("T001", float64(i), time.Duration(i)*time.Minute))
	}

	t.Run("window", func(t *testing.T) {
		window := store.Since("T001", base.Add(3*time.Minute))
		require.Len(t, window, 3)
		assert.Equal(t, 3.0, window[0].Value)
		assert.Equal(t, 5.0, window[2].Value)
	})

	t.Run("cutoff before first sample returns everything", func(t *testing.T) {
		assert.Len(t, store.Since("T001", base.Add(-time.Hour)), 6)
	})

	t.Run("cutoff after last sample returns nothing", func(t *testing.T) {
		assert.Empty(t, store.Since("T001", base.Add(time.Hour)))
	})

	t.Run("unknown point", func(t *testing.T) {
		assert.Nil(t, store.Since("unknown", base))
	})

	t.Run("window survives eviction", func(t *testing.T) {
		small := NewStore(3)
		for i := 0; i < 5; i++ {
			small.Append(sampleAt("P001", float64(i), time.Duration(i)*time.Minute))
		}
		window := small.Since("P001", base)
		require.Len(t, window, 3, "evicted samples are gone")
		assert.Equal(t, 2.0, window[0].Value)
	})
}

func TestStoreAllLatest(t *testing.T) {
	store := NewStore(4)
	store.Append(sampleAt("T001", 85.0, 0))
	store.Append(sampleAt("P001", 101.5, 0))
	store.Append(sampleAt("T001", 86.0, time.Second))

	latest := store.AllLatest()
	require.Len(t, latest, 2)
	assert.Equal(t, 86.0, latest["T001"].Value)
	assert.Equal(t, 101.5, latest["P001"].Value)
}

func TestStoreDrop(t *testing.T) {
	store := NewStore(4)
	store.Append(sampleAt("F001", 12.0, 0))

	store.Drop("F001")

	_, ok := store.Latest("F001")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len("F001"))
}

func TestStoreConcurrentAppends(t *testing.T) {
	store := NewStore(100)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			id := fmt.Sprintf("PT%02d", p)
			for i := 0; i < 200; i++ {
				store.Append(sampleAt(id, float64(i), time.Duration(i)*time.Millisecond))
			}
		}(p)
	}
	wg.Wait()

	for p := 0; p < 8; p++ {
		id := fmt.Sprintf("PT%02d", p)
		assert.Equal(t, 100, store.Len(id))
		latest, ok := store.Latest(id)
		require.True(t, ok)
		assert.Equal(t, 199.0, latest.Value)
	}
}
