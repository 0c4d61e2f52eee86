package scrape

import "context"

type Repo interface {
	Insert(ctx context.Context, r *Run) error
	Latest(ctx context.Context, configID int64) (*Run, error)
	ListByConfig(ctx context.Context, configID int64, limit int) ([]*Run, error)
}
