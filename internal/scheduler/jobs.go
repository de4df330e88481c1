package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// Unlocker moves due locked earnings to available.
type Unlocker interface {
	UnlockDue(ctx context.Context) (int, error)
}

type unlockJob struct {
	unlocker Unlocker
	schedule string
	log      *zap.Logger
}

const UnlockJobName = "earnings_unlock"

func NewUnlockJob(unlocker Unlocker, schedule string, log *zap.Logger) Job {
	return &unlockJob{unlocker: unlocker, schedule: schedule, log: log}
}

func (j *unlockJob) Name() string     { return UnlockJobName }
func (j *unlockJob) Schedule() string { return j.schedule }

func (j *unlockJob) Execute(ctx context.Context) error {
	n, err := j.unlocker.UnlockDue(ctx)
	if err != nil {
		return err
	}
	j.log.Info("unlock sweep finished", zap.Int("unlocked", n))
	return nil
}
