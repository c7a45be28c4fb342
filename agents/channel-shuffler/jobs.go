package channelshuffler

import (
	"context"

	"channel-shuffler/shared/scheduler"
)

// QuotaMaintainer is the part of the quota manager the periodic jobs drive.
type QuotaMaintainer interface {
	ResetDaily(ctx context.Context) error
	RefreshPool(ctx context.Context) error
	HasCustom() bool
}

// QuotaResetJob restores the daily budget once its reset time has passed.
func QuotaResetJob(q QuotaMaintainer) scheduler.Job {
	return scheduler.JobFunc{JobName: "quota reset", Fn: q.ResetDaily}
}

// PoolRefreshJob reloads the shared credential pool. It is a no-op while a
// custom key is configured.
func PoolRefreshJob(q QuotaMaintainer) scheduler.Job {
	return scheduler.JobFunc{JobName: "credential pool refresh", Fn: func(ctx context.Context) error {
		if q.HasCustom() {
			return nil
		}
		return q.RefreshPool(ctx)
	}}
}
