package cache

import (
	"context"
	"time"
)

const (
	QueueCursorKey = "queue:cursor"
	SyncOffsetKey  = "sync:offset"
)

// RunState is the short-lived bookkeeping shared between runs: resume
// checkpoints, provider receipts and area codes the resolver could not map.
type RunState interface {
	StoreSent(ctx context.Context, logID int64, remoteMessageID string, sentAt time.Time) error
	SaveCheckpoint(ctx context.Context, key string, value int64) error
	Checkpoint(ctx context.Context, key string) (value int64, found bool, err error)
	// RecordUnmapped reports true the first time an area code is seen
	// within the retention window.
	RecordUnmapped(ctx context.Context, areaCode string) (bool, error)
	Unmapped(ctx context.Context) ([]string, error)
}

// Nop is used when no Redis is configured.
type Nop struct{}

func (Nop) StoreSent(context.Context, int64, string, time.Time) error { return nil }
func (Nop) SaveCheckpoint(context.Context, string, int64) error       { return nil }
func (Nop) Checkpoint(context.Context, string) (int64, bool, error)   { return 0, false, nil }
func (Nop) RecordUnmapped(context.Context, string) (bool, error)      { return true, nil }
func (Nop) Unmapped(context.Context) ([]string, error)                { return nil, nil }
