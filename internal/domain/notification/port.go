package notification

import (
	"context"
	"time"
)

type Repo interface {
	Create(ctx context.Context, r *Record) error
	// ExistsAfter reports whether a record exists for the config with sent_at after since.
	// A nil since matches any record.
	ExistsAfter(ctx context.Context, configID int64, since *time.Time) (bool, error)
	ListByConfig(ctx context.Context, configID int64, limit int) ([]*Record, error)
}
