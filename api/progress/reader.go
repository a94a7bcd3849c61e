package progress

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"provenancePoster/api/database"
	"provenancePoster/api/dto"
)

const recordKeyPrefix = "post:progress:"

// Record mirrors the progress record written by the worker pipeline. Absent
// keys mean the record never existed or its 24h TTL expired; both look the
// same to a polling client.
type Record struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

type Reader struct {
	cache *database.Cache
}

func NewReader(cache *database.Cache) *Reader {
	return &Reader{cache: cache}
}

func (r *Reader) Get(ctx context.Context, taskID string) (*Record, error) {
	data, err := r.cache.Get(ctx, recordKeyPrefix+taskID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, dto.ErrProgressNotFound
		}
		return nil, err
	}

	var record Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, err
	}

	return &record, nil
}

// Completed reports whether the record reached a terminal status.
func (rec *Record) Completed() bool {
	return rec.Status == StatusCompleted || rec.Status == StatusError
}
