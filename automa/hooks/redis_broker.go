package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker is an opt-in, cross-process FeedbackSender backend for
// request_feedback_async. The in-process Bus already fans out events
// within one process; RedisBroker lets a worker pool that spans several
// processes of the same Automa deployment deliver a feedback answer to
// whichever process is blocked waiting for it, using a pub/sub channel
// per pending feedback request plus a TTL-keyed mapping so stale
// requests expire instead of leaking.
//
// This mirrors the tool-use-id → stream-id mapping and TTL pattern used
// for cross-node tool result delivery elsewhere in this codebase's
// sibling services, re-targeted from tool results to worker feedback.
type RedisBroker struct {
	rdb *redis.Client
	ttl time.Duration
}

// DefaultFeedbackTTL is used when NewRedisBroker is given ttl <= 0.
const DefaultFeedbackTTL = 5 * time.Minute

// NewRedisBroker constructs a RedisBroker backed by rdb. ttl bounds how
// long a pending feedback request's marker key survives before it is
// considered abandoned.
func NewRedisBroker(rdb *redis.Client, ttl time.Duration) *RedisBroker {
	if ttl <= 0 {
		ttl = DefaultFeedbackTTL
	}
	return &RedisBroker{rdb: rdb, ttl: ttl}
}

func (b *RedisBroker) channelKey(feedbackID string) string {
	return fmt.Sprintf("automa:feedback:channel:%s", feedbackID)
}

func (b *RedisBroker) markerKey(feedbackID string) string {
	return fmt.Sprintf("automa:feedback:pending:%s", feedbackID)
}

// RegisterPending records a marker key saying feedbackID is awaited. The
// marker expires automatically after the broker's TTL and Answer deletes
// it; Answer does not check it before publishing.
func (b *RedisBroker) RegisterPending(ctx context.Context, feedbackID string) error {
	return b.rdb.Set(ctx, b.markerKey(feedbackID), 1, b.ttl).Err()
}

// Answer publishes data as the feedback for feedbackID. If no process is
// currently subscribed (the request may have already timed out), the
// message is dropped and Answer still returns nil; it returns an error
// only when marshalling or publishing fails.
func (b *RedisBroker) Answer(ctx context.Context, feedbackID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal feedback payload: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channelKey(feedbackID), payload).Err(); err != nil {
		return fmt.Errorf("publish feedback: %w", err)
	}
	b.rdb.Del(ctx, b.markerKey(feedbackID))
	return nil
}

// Wait subscribes to feedbackID's channel and blocks until an answer
// arrives, ctx is done, or timeout elapses.
func (b *RedisBroker) Wait(ctx context.Context, feedbackID string, timeout time.Duration) (any, error) {
	sub := b.rdb.Subscribe(ctx, b.channelKey(feedbackID))
	defer sub.Close()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := sub.ReceiveMessage(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("wait for feedback %q: %w", feedbackID, err)
	}
	var data any
	if err := json.Unmarshal([]byte(msg.Payload), &data); err != nil {
		return nil, fmt.Errorf("decode feedback payload: %w", err)
	}
	return data, nil
}
