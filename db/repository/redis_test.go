package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7D-Solutions/gaugecore/bus"
	"github.com/7D-Solutions/gaugecore/gauge"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheFromClient(client, time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheGaugeRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type snapshot struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}

	require.NoError(t, c.SetGauge(ctx, 42, snapshot{ID: 42, Status: "available"}))

	var got snapshot
	require.NoError(t, c.GetGauge(ctx, 42, &got))
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "available", got.Status)

	err := c.GetGauge(ctx, 99, &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCacheInvalidateGauge(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetGauge(ctx, 7, map[string]string{"k": "v"}))
	require.NoError(t, c.SetCertChain(ctx, 7, []string{"cert-1"}))
	require.NoError(t, c.InvalidateGauge(ctx, 7))

	var v map[string]string
	assert.ErrorIs(t, c.GetGauge(ctx, 7, &v), ErrCacheMiss)
	var chain []string
	assert.ErrorIs(t, c.GetCertChain(ctx, 7, &chain), ErrCacheMiss)
}

func TestRedisCacheOperationLock(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := c.AcquireOperationLock(ctx, "batch:send:12", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireOperationLock(ctx, "batch:send:12", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquisition should fail while held")

	require.NoError(t, c.ReleaseOperationLock(ctx, "batch:send:12"))
	ok, err = c.AcquireOperationLock(ctx, "batch:send:12", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be free after release")

	// TTL expiry frees the lock without an explicit release.
	mr.FastForward(time.Minute)
	ok, err = c.AcquireOperationLock(ctx, "batch:send:12", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCachedGaugesReadThrough(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	mem := NewMemory()
	cached := NewCachedGauges(mem.Gauges, c)

	g, err := mem.Gauges.Create(ctx, nil, &gauge.Gauge{
		SerialNumber:  "HT-100",
		EquipmentType: gauge.EquipmentHandTool,
		OwnershipType: gauge.OwnershipCompany,
		Status:        gauge.StatusAvailable,
		Spec:          &gauge.Specification{HandTool: &gauge.HandToolSpec{Format: "caliper", RangeMax: 6, RangeUnit: "inch"}},
	})
	require.NoError(t, err)

	// First read populates the cache.
	got, err := cached.FindByID(ctx, nil, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "HT-100", got.SerialNumber)

	// A write that bypasses the decorator is invisible until invalidation:
	// the second read is served from the cache.
	g.SerialNumber = "HT-101"
	require.NoError(t, mem.Gauges.Update(ctx, nil, g))
	got, err = cached.FindByID(ctx, nil, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "HT-100", got.SerialNumber)

	// Writing through the decorator invalidates the entry.
	g.SerialNumber = "HT-102"
	require.NoError(t, cached.Update(ctx, nil, g))
	got, err = cached.FindByID(ctx, nil, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "HT-102", got.SerialNumber)
}

func TestCachedCertificatesChainReadThrough(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	mem := NewMemory()
	cached := NewCachedCertificates(mem.Certificates, c)

	_, err := mem.Certificates.Insert(ctx, nil, &Certificate{
		GaugeID: 5, FileRef: "certs/a.pdf", UploadedBy: "u-cal", IsCurrent: true,
	})
	require.NoError(t, err)

	chain, err := cached.ListFor(ctx, 5, false)
	require.NoError(t, err)
	require.Len(t, chain, 1)

	// A direct insert is invisible while the chain is cached.
	_, err = mem.Certificates.Insert(ctx, nil, &Certificate{
		GaugeID: 5, FileRef: "certs/b.pdf", UploadedBy: "u-cal",
	})
	require.NoError(t, err)
	chain, err = cached.ListFor(ctx, 5, false)
	require.NoError(t, err)
	require.Len(t, chain, 1)

	// Invalidation, as driven by the bus on certificate events, refreshes.
	require.NoError(t, c.InvalidateGauge(ctx, 5))
	chain, err = cached.ListFor(ctx, 5, false)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	// includeDeleted listings always bypass the cache.
	chain, err = cached.ListFor(ctx, 5, true)
	require.NoError(t, err)
	require.Len(t, chain, 2)
}

func TestRedisCacheBusInvalidation(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetGauge(ctx, 1, map[string]string{"k": "go"}))
	require.NoError(t, c.SetGauge(ctx, 2, map[string]string{"k": "nogo"}))

	b := bus.New(nil)
	id := c.SubscribeInvalidation(b)
	defer b.Unsubscribe(id)

	b.Publish(bus.TopicSetCreated, "u-1", bus.SetEvent{SetID: "SP0100", GoID: 1, NoGoID: 2})

	var v map[string]string
	assert.ErrorIs(t, c.GetGauge(ctx, 1, &v), ErrCacheMiss)
	assert.ErrorIs(t, c.GetGauge(ctx, 2, &v), ErrCacheMiss)
}
