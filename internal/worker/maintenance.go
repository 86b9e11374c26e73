package worker

import (
	"context"

	"projectbrowser/internal/logging"
)

// Job names
const (
	JobGarbageCollect = "keyvalue-gc"
	JobClearCatalog   = "catalog-clear"
)

// ExpiredDeleter removes expired key/value entries
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CatalogClearer drops cached catalog results
type CatalogClearer interface {
	ClearAll(ctx context.Context) error
}

// RegisterMaintenance adds the garbage collection job and, when
// clearSchedule is set, the catalog clear job.
func RegisterMaintenance(w *Worker, gcSchedule string, kv ExpiredDeleter, clearSchedule string, cat CatalogClearer) error {
	if kv != nil {
		err := w.Add(JobGarbageCollect, gcSchedule, func(ctx context.Context) error {
			n, err := kv.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logging.Infof("Removed %d expired key/value entries", n)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if clearSchedule != "" && cat != nil {
		return w.Add(JobClearCatalog, clearSchedule, cat.ClearAll)
	}
	return nil
}
