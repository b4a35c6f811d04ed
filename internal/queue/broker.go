// Package queue is the priority job queue: a Redis Streams broker with three
// bands plus the durable ledger kept in the relational store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"telxfwd/internal/constants"
	appErrors "telxfwd/internal/errors"

	"github.com/redis/go-redis/v9"
)

const (
	jobIDField      = "job_id"
	enqueuedAtField = "enqueued_at"

	maxPendingCheck = 100
	promoteBatch    = 100
	scanBatch       = 500
)

// ResultState is the broker-side view of a job, kept apart from the ledger.
type ResultState string

const (
	StatePending ResultState = "PENDING"
	StateStarted ResultState = "STARTED"
	StateSuccess ResultState = "SUCCESS"
	StateFailure ResultState = "FAILURE"
	StateRevoked ResultState = "REVOKED"
)

// Result is the content of a result hash.
type Result struct {
	State     ResultState
	Result    json.RawMessage
	Error     string
	Consumer  string
	UpdatedAt time.Time
}

// Delivery is one stream entry handed to a consumer.
type Delivery struct {
	MessageID  string
	JobID      string
	Band       Band
	EnqueuedAt time.Time
	Reclaimed  bool
}

// Depths is a point-in-time view of the broker backlog.
type Depths struct {
	Bands     map[Band]int64 `json:"bands"`
	Scheduled int64          `json:"scheduled"`
}

type BrokerConfig struct {
	Prefix       string
	Group        string
	BlockTimeout time.Duration
	ClaimMinIdle time.Duration
	ResultTTL    time.Duration
}

func (c BrokerConfig) withDefaults() BrokerConfig {
	if c.Prefix == "" {
		c.Prefix = constants.DefaultRedisPrefix
	}
	if c.Group == "" {
		c.Group = constants.DefaultConsumerGroup
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = time.Duration(constants.DefaultBlockTimeoutMs) * time.Millisecond
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = time.Duration(constants.DefaultClaimMinIdleSec) * time.Second
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = time.Duration(constants.DefaultResultTTLHours) * time.Hour
	}
	return c
}

// Broker moves job ids through Redis. It never holds job state beyond the
// result hash; the ledger stays authoritative.
type Broker struct {
	client *redis.Client
	config BrokerConfig
	now    func() time.Time
}

func NewBroker(client *redis.Client, config BrokerConfig) *Broker {
	return &Broker{
		client: client,
		config: config.withDefaults(),
		now:    time.Now,
	}
}

// StreamName returns the stream key of a band.
func (b *Broker) StreamName(band Band) string {
	return fmt.Sprintf("%s:jobs:%d", b.config.Prefix, band)
}

func (b *Broker) scheduledKey() string {
	return b.config.Prefix + ":scheduled"
}

func (b *Broker) resultKey(jobID string) string {
	return b.config.Prefix + ":result:" + jobID
}

func (b *Broker) revokedKey(jobID string) string {
	return b.config.Prefix + ":revoked:" + jobID
}

// Initialize creates the consumer group on every band stream.
func (b *Broker) Initialize(ctx context.Context) error {
	for _, band := range AllBands() {
		err := b.client.XGroupCreateMkStream(ctx, b.StreamName(band), b.config.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return brokerError("create consumer group", err)
		}
	}
	return nil
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish appends a job to its band and marks it PENDING.
func (b *Broker) Publish(ctx context.Context, band Band, jobID string) error {
	if err := b.xadd(ctx, band, jobID); err != nil {
		return err
	}
	return b.SetState(ctx, jobID, StatePending, nil, "")
}

func (b *Broker) xadd(ctx context.Context, band Band, jobID string) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.StreamName(band),
		Values: map[string]interface{}{
			jobIDField:      jobID,
			enqueuedAtField: b.now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return brokerError("publish job", err)
	}
	return nil
}

// Schedule parks a job until at; PromoteDue later moves it into its band.
func (b *Broker) Schedule(ctx context.Context, band Band, jobID string, at time.Time) error {
	err := b.client.ZAdd(ctx, b.scheduledKey(), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: scheduledMember(band, jobID),
	}).Err()
	if err != nil {
		return brokerError("schedule job", err)
	}
	return b.SetState(ctx, jobID, StatePending, nil, "")
}

// PromoteDue publishes every scheduled job whose time has come. Several
// promoters may run at once; only the one whose ZREM succeeds publishes.
func (b *Broker) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	members, err := b.client.ZRangeByScore(ctx, b.scheduledKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return 0, brokerError("list scheduled jobs", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := b.client.ZRem(ctx, b.scheduledKey(), member).Result()
		if err != nil {
			return promoted, brokerError("unschedule job", err)
		}
		if removed == 0 {
			continue
		}
		band, jobID, ok := parseScheduledMember(member)
		if !ok {
			continue
		}
		if err := b.xadd(ctx, band, jobID); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// QueuedJobs returns the ids of jobs that still have a stream entry in any
// band or wait in the schedule.
func (b *Broker) QueuedJobs(ctx context.Context) (map[string]bool, error) {
	queued := make(map[string]bool)

	members, err := b.client.ZRange(ctx, b.scheduledKey(), 0, -1).Result()
	if err != nil {
		return nil, brokerError("list scheduled jobs", err)
	}
	for _, member := range members {
		if _, jobID, ok := parseScheduledMember(member); ok {
			queued[jobID] = true
		}
	}

	for _, band := range AllBands() {
		start := "-"
		for {
			msgs, err := b.client.XRangeN(ctx, b.StreamName(band), start, "+", scanBatch).Result()
			if err != nil {
				return nil, brokerError("scan stream", err)
			}
			for _, msg := range msgs {
				if jobID, ok := msg.Values[jobIDField].(string); ok {
					queued[jobID] = true
				}
			}
			if len(msgs) < scanBatch {
				break
			}
			// XRANGE is inclusive, so the next page repeats this entry
			start = msgs[len(msgs)-1].ID
		}
	}
	return queued, nil
}

// Read returns the next delivery for consumer, or nil when nothing arrived
// within the block timeout. Idle entries abandoned by dead consumers are
// reclaimed first, then bands are polled high to low.
func (b *Broker) Read(ctx context.Context, consumer string) (*Delivery, error) {
	if d := b.reclaim(ctx, consumer); d != nil {
		return d, nil
	}

	d, err := b.poll(ctx, consumer)
	if err != nil || d != nil {
		return d, err
	}

	// Nothing queued: wait for any band to grow, then poll again in order.
	streams := make([]string, 0, 2*len(AllBands()))
	for _, band := range AllBands() {
		streams = append(streams, b.StreamName(band))
	}
	for range AllBands() {
		streams = append(streams, "$")
	}
	err = b.client.XRead(ctx, &redis.XReadArgs{
		Streams: streams,
		Count:   1,
		Block:   b.config.BlockTimeout,
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, brokerError("wait for jobs", err)
	}
	return b.poll(ctx, consumer)
}

func (b *Broker) poll(ctx context.Context, consumer string) (*Delivery, error) {
	for _, band := range AllBands() {
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.config.Group,
			Consumer: consumer,
			Streams:  []string{b.StreamName(band), ">"},
			Count:    1,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, brokerError("read jobs", err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if d, ok := parseDelivery(msg, band); ok {
					return d, nil
				}
				// unreadable entry, drop it
				b.discard(ctx, band, msg.ID)
			}
		}
	}
	return nil, nil
}

func (b *Broker) reclaim(ctx context.Context, consumer string) *Delivery {
	for _, band := range AllBands() {
		stream := b.StreamName(band)
		pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  b.config.Group,
			Start:  "-",
			End:    "+",
			Count:  maxPendingCheck,
		}).Result()
		if err != nil {
			continue
		}

		for _, entry := range pending {
			if entry.Idle < b.config.ClaimMinIdle {
				continue
			}
			claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    b.config.Group,
				Consumer: consumer,
				MinIdle:  b.config.ClaimMinIdle,
				Messages: []string{entry.ID},
			}).Result()
			if err != nil || len(claimed) == 0 {
				continue
			}
			d, ok := parseDelivery(claimed[0], band)
			if !ok {
				b.discard(ctx, band, claimed[0].ID)
				continue
			}
			d.Reclaimed = true
			return d
		}
	}
	return nil
}

// Ack removes a delivery from the consumer group and the stream, so stream
// length stays equal to the outstanding backlog.
func (b *Broker) Ack(ctx context.Context, d *Delivery) error {
	stream := b.StreamName(d.Band)
	if err := b.client.XAck(ctx, stream, b.config.Group, d.MessageID).Err(); err != nil {
		return brokerError("ack job", err)
	}
	if err := b.client.XDel(ctx, stream, d.MessageID).Err(); err != nil {
		return brokerError("trim acked job", err)
	}
	return nil
}

func (b *Broker) discard(ctx context.Context, band Band, messageID string) {
	_ = b.Ack(ctx, &Delivery{MessageID: messageID, Band: band})
}

// Revoke flags a job so workers skip it, drops any pending schedule and
// records REVOKED. A worker already running the job is not interrupted.
func (b *Broker) Revoke(ctx context.Context, jobID string) error {
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.revokedKey(jobID), "1", b.config.ResultTTL)
	for _, band := range AllBands() {
		pipe.ZRem(ctx, b.scheduledKey(), scheduledMember(band, jobID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return brokerError("revoke job", err)
	}
	return b.SetState(ctx, jobID, StateRevoked, nil, "")
}

func (b *Broker) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	n, err := b.client.Exists(ctx, b.revokedKey(jobID)).Result()
	if err != nil {
		return false, brokerError("check revoke", err)
	}
	return n > 0, nil
}

// ClearRevoked lifts a revoke so an explicit retry can run again.
func (b *Broker) ClearRevoked(ctx context.Context, jobID string) error {
	if err := b.client.Del(ctx, b.revokedKey(jobID)).Err(); err != nil {
		return brokerError("clear revoke", err)
	}
	return nil
}

// SetState writes the result hash and refreshes its TTL.
func (b *Broker) SetState(ctx context.Context, jobID string, state ResultState, result json.RawMessage, errText string) error {
	return b.setState(ctx, jobID, state, result, errText, "")
}

func (b *Broker) setState(ctx context.Context, jobID string, state ResultState, result json.RawMessage, errText, consumer string) error {
	key := b.resultKey(jobID)
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(state),
		"result", string(result),
		"error", errText,
		"consumer", consumer,
		"updated_at", b.now().UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, b.config.ResultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return brokerError("store job state", err)
	}
	return nil
}

// State returns the result hash, or nil when it never existed or expired.
func (b *Broker) State(ctx context.Context, jobID string) (*Result, error) {
	values, err := b.client.HGetAll(ctx, b.resultKey(jobID)).Result()
	if err != nil {
		return nil, brokerError("read job state", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	res := &Result{
		State:    ResultState(values["state"]),
		Error:    values["error"],
		Consumer: values["consumer"],
	}
	if raw := values["result"]; raw != "" {
		res.Result = json.RawMessage(raw)
	}
	if ts, err := time.Parse(time.RFC3339Nano, values["updated_at"]); err == nil {
		res.UpdatedAt = ts
	}
	return res, nil
}

// Depths reports stream length per band and the scheduled count.
func (b *Broker) Depths(ctx context.Context) (Depths, error) {
	depths := Depths{Bands: make(map[Band]int64, len(AllBands()))}
	for _, band := range AllBands() {
		n, err := b.client.XLen(ctx, b.StreamName(band)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return depths, brokerError("read queue depth", err)
		}
		depths.Bands[band] = n
	}

	n, err := b.client.ZCard(ctx, b.scheduledKey()).Result()
	if err != nil {
		return depths, brokerError("read scheduled count", err)
	}
	depths.Scheduled = n
	return depths, nil
}

// Workers counts the distinct consumers that read from any band within
// activeWithin.
func (b *Broker) Workers(ctx context.Context, activeWithin time.Duration) (int, error) {
	seen := make(map[string]struct{})
	for _, band := range AllBands() {
		consumers, err := b.client.XInfoConsumers(ctx, b.StreamName(band), b.config.Group).Result()
		if err != nil {
			if strings.HasPrefix(err.Error(), "ERR no such key") || strings.HasPrefix(err.Error(), "NOGROUP") {
				continue
			}
			return 0, brokerError("list consumers", err)
		}
		for _, c := range consumers {
			if c.Idle <= activeWithin {
				seen[c.Name] = struct{}{}
			}
		}
	}
	return len(seen), nil
}

func scheduledMember(band Band, jobID string) string {
	return strconv.Itoa(int(band)) + ":" + jobID
}

func parseScheduledMember(member string) (Band, string, bool) {
	bandStr, jobID, ok := strings.Cut(member, ":")
	if !ok || jobID == "" {
		return 0, "", false
	}
	band, err := ParseBand(bandStr)
	if err != nil {
		return 0, "", false
	}
	return band, jobID, true
}

func parseDelivery(msg redis.XMessage, band Band) (*Delivery, bool) {
	jobID, ok := msg.Values[jobIDField].(string)
	if !ok || jobID == "" {
		return nil, false
	}
	d := &Delivery{MessageID: msg.ID, JobID: jobID, Band: band}
	if ts, ok := msg.Values[enqueuedAtField].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			d.EnqueuedAt = t
		}
	}
	return d, true
}

func brokerError(op string, err error) error {
	return appErrors.NewTransientError(appErrors.ErrCodeBroker, "broker "+op+" failed", err).
		WithContext("operation", op)
}
