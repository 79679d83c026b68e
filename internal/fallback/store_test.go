package fallback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storeNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func record(ts time.Time, lat float64) Record {
	return Record{
		BusID:      "bus-1",
		DriverID:   "driver-1",
		Latitude:   lat,
		Longitude:  76.89,
		Timestamp:  ts,
		Confidence: 1,
	}
}

func TestMemoryStoreMissReturnsNil(t *testing.T) {
	s := NewMemoryStore()

	rec, err := s.Get(context.Background(), "bus-1", "driver-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryStoreCacheAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Cache(ctx, record(storeNow, 43.24)))

	rec, err := s.Get(ctx, "bus-1", "driver-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 43.24, rec.Latitude)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreNewerTimestampSupersedes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Cache(ctx, record(storeNow, 43.24)))
	require.NoError(t, s.Cache(ctx, record(storeNow.Add(time.Minute), 43.25)))

	rec, err := s.Get(ctx, "bus-1", "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 43.25, rec.Latitude)
}

func TestMemoryStoreOlderTimestampIsIgnored(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Cache(ctx, record(storeNow, 43.24)))
	require.NoError(t, s.Cache(ctx, record(storeNow.Add(-time.Minute), 41.0)))

	rec, err := s.Get(ctx, "bus-1", "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 43.24, rec.Latitude, "stale sample must not replace a newer record")
}

func TestMemoryStoreKeysPerBusAndDriver(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := record(storeNow, 43.24)
	b := record(storeNow, 51.16)
	b.BusID = "bus-2"

	require.NoError(t, s.Cache(ctx, a))
	require.NoError(t, s.Cache(ctx, b))
	assert.Equal(t, 2, s.Len())

	rec, err := s.Get(ctx, "bus-2", "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 51.16, rec.Latitude)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Cache(ctx, record(storeNow, 43.24)))

	rec, err := s.Get(ctx, "bus-1", "driver-1")
	require.NoError(t, err)
	rec.Latitude = 0 // mutating the copy must not touch the stored record

	again, err := s.Get(ctx, "bus-1", "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 43.24, again.Latitude)
}
