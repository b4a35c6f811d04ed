package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	appErrors "telxfwd/internal/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := NewBroker(client, BrokerConfig{
		Prefix:       "test",
		BlockTimeout: 10 * time.Millisecond,
		ClaimMinIdle: time.Minute,
		ResultTTL:    time.Hour,
	})
	require.NoError(t, b.Initialize(context.Background()))
	return b, mr
}

func readJobIDs(t *testing.T, b *Broker, consumer string, n int) []string {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for i := 0; i < n; i++ {
		d, err := b.Read(ctx, consumer)
		require.NoError(t, err)
		require.NotNil(t, d, "delivery %d", i)
		require.NoError(t, b.Ack(ctx, d))
		ids = append(ids, d.JobID)
	}
	return ids
}

func TestBroker_InitializeIsIdempotent(t *testing.T) {
	b, mr := newTestBroker(t)
	require.NoError(t, b.Initialize(context.Background()))
	assert.True(t, mr.Exists("test:jobs:3"))
	assert.Equal(t, "test:jobs:1", b.StreamName(BandLow))
}

func TestBroker_ReadDrainsHigherBandsFirst(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, BandLow, "low-1"))
	require.NoError(t, b.Publish(ctx, BandHigh, "high-1"))
	require.NoError(t, b.Publish(ctx, BandMedium, "medium-1"))
	require.NoError(t, b.Publish(ctx, BandLow, "low-2"))
	require.NoError(t, b.Publish(ctx, BandHigh, "high-2"))

	ids := readJobIDs(t, b, "w1", 5)
	assert.Equal(t, []string{"high-1", "high-2", "medium-1", "low-1", "low-2"}, ids)
}

func TestBroker_ReadEmpty(t *testing.T) {
	b, _ := newTestBroker(t)

	d, err := b.Read(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestBroker_AckKeepsDepthAccurate(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, BandMedium, "job-1"))
	require.NoError(t, b.Publish(ctx, BandMedium, "job-2"))

	depths, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depths.Bands[BandMedium])

	readJobIDs(t, b, "w1", 1)
	depths, err = b.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths.Bands[BandMedium])
	assert.Equal(t, int64(0), depths.Bands[BandHigh])
}

func TestBroker_PromoteDueOnlyOnce(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, b.Schedule(ctx, BandHigh, "due", now.Add(-time.Second)))
	require.NoError(t, b.Schedule(ctx, BandLow, "later", now.Add(time.Hour)))

	n, err := b.PromoteDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = b.PromoteDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	depths, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths.Bands[BandHigh])
	assert.Equal(t, int64(1), depths.Scheduled)

	assert.Equal(t, []string{"due"}, readJobIDs(t, b, "w1", 1))

	n, err = b.PromoteDue(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"later"}, readJobIDs(t, b, "w1", 1))
}

func TestBroker_ReclaimsIdleDeliveries(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, BandLow, "job-1"))
	first, err := b.Read(ctx, "dead-worker")
	require.NoError(t, err)
	require.NotNil(t, first)

	// not idle long enough yet
	d, err := b.Read(ctx, "w2")
	require.NoError(t, err)
	assert.Nil(t, d)

	mr.SetTime(time.Now().Add(2 * time.Minute))
	d, err = b.Read(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-1", d.JobID)
	assert.Equal(t, first.MessageID, d.MessageID)
	assert.True(t, d.Reclaimed)
}

func TestBroker_Revoke(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Schedule(ctx, BandMedium, "job-1", time.Now().Add(time.Hour)))
	require.NoError(t, b.Revoke(ctx, "job-1"))

	revoked, err := b.IsRevoked(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	depths, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths.Scheduled)

	res, err := b.State(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StateRevoked, res.State)

	require.NoError(t, b.ClearRevoked(ctx, "job-1"))
	revoked, err = b.IsRevoked(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestBroker_State(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()

	res, err := b.State(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, res)

	require.NoError(t, b.SetState(ctx, "job-1", StateSuccess, json.RawMessage(`{"ok":true}`), ""))
	res, err = b.State(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StateSuccess, res.State)
	assert.JSONEq(t, `{"ok":true}`, string(res.Result))
	assert.False(t, res.UpdatedAt.IsZero())

	mr.FastForward(2 * time.Hour)
	res, err = b.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, res, "result expires after the TTL")
}

func TestBroker_ErrorsAreTransient(t *testing.T) {
	b, mr := newTestBroker(t)
	mr.Close()

	err := b.Publish(context.Background(), BandLow, "job-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCodeBroker, appErrors.GetCode(err))
	assert.True(t, appErrors.IsRetryable(err))
}

func TestScheduledMember(t *testing.T) {
	band, id, ok := parseScheduledMember(scheduledMember(BandMedium, "a:b"))
	require.True(t, ok)
	assert.Equal(t, BandMedium, band)
	assert.Equal(t, "a:b", id)

	_, _, ok = parseScheduledMember("junk")
	assert.False(t, ok)
	_, _, ok = parseScheduledMember("7:job")
	assert.False(t, ok)
}

func TestBroker_WorkersCountsConsumers(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	n, err := b.Workers(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, b.Publish(ctx, BandHigh, "a"))
	require.NoError(t, b.Publish(ctx, BandLow, "b"))
	readJobIDs(t, b, "worker-1", 1)
	readJobIDs(t, b, "worker-2", 1)

	n, err = b.Workers(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
