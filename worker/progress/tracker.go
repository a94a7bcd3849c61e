package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	recordKeyPrefix = "post:progress:"
	recordTTL       = 24 * time.Hour
)

// Status is a pipeline-wide processing phase. Transitions only move forward
// through the declared order, or to StatusError from any non-terminal state.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusPosting    Status = "posting"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var statusRank = map[Status]int{
	StatusStarting:   0,
	StatusPosting:    1,
	StatusGenerating: 2,
	StatusCompleted:  3,
}

// Record is the transient status document polled by clients. It is keyed by
// the post id and expires on its own; nothing deletes it explicitly.
type Record struct {
	TaskID    string `json:"task_id"`
	Status    Status `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// Terminal reports whether the record can never change again.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// KV is the slice of a key-value store the tracker needs. Satisfied by
// RedisKV in production and by an in-memory map in tests.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisKV adapts a redis client to the KV interface.
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Tracker owns all writes to progress records. Each record has exactly one
// writer (the pipeline execution for that post id), so plain upserts are
// safe; the tracker still refuses backward transitions and writes after a
// terminal state so a redelivered execution cannot corrupt a finished record.
type Tracker struct {
	kv     KV
	logger *zap.Logger
}

func NewTracker(kv KV, logger *zap.Logger) *Tracker {
	return &Tracker{kv: kv, logger: logger}
}

// Get returns the current record, or nil when absent or expired.
func (t *Tracker) Get(ctx context.Context, taskID string) (*Record, error) {
	value, ok, err := t.kv.Get(ctx, recordKeyPrefix+taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var record Record
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Update upserts the record, enforcing monotonic progress. Out-of-order or
// post-terminal writes are dropped silently.
func (t *Tracker) Update(ctx context.Context, taskID string, status Status, pct int, message string) error {
	return t.write(ctx, taskID, status, pct, message, "")
}

// Fail marks the record terminally failed. Called by every step before it
// re-raises, so the poll endpoint is the only place errors surface.
func (t *Tracker) Fail(ctx context.Context, taskID string, pct int, message string, cause error) {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	if err := t.write(ctx, taskID, StatusError, pct, message, errText); err != nil {
		t.logger.Error("Failed to write error progress record",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

func (t *Tracker) write(ctx context.Context, taskID string, status Status, pct int, message, errText string) error {
	current, err := t.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if current != nil {
		if current.Terminal() {
			return nil
		}
		if status != StatusError {
			if statusRank[status] < statusRank[current.Status] {
				return nil
			}
			if pct < current.Progress {
				pct = current.Progress
			}
		}
	}

	record := Record{
		TaskID:    taskID,
		Status:    status,
		Progress:  pct,
		Message:   message,
		Error:     errText,
		UpdatedAt: time.Now().Unix(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return t.kv.Set(ctx, recordKeyPrefix+taskID, string(data), recordTTL)
}
