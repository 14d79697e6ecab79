package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/config"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

// RetentionJob periodically prunes aged device logs and pending commands
// that were never picked up by a device.
type RetentionJob struct {
	logRepo     repository.DeviceLogRepository
	commandRepo repository.CommandRepository
	interval    time.Duration
	done        chan struct{}
}

func NewRetentionJob(
	logRepo repository.DeviceLogRepository,
	commandRepo repository.CommandRepository,
	interval time.Duration,
) *RetentionJob {
	return &RetentionJob{
		logRepo:     logRepo,
		commandRepo: commandRepo,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("retention job started")
}

func (j *RetentionJob) Stop() {
	close(j.done)
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.prune()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *RetentionJob) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runPrune(ctx, "device logs", func(ctx context.Context) (int64, error) {
		return j.logRepo.DeleteOlderThan(ctx, time.Now().Add(-config.DeviceLogRetention))
	})
	j.runPrune(ctx, "stale pending commands", func(ctx context.Context) (int64, error) {
		return j.commandRepo.DeleteStalePending(ctx, time.Now().Add(-config.PendingCommandRetention))
	})
}

func (j *RetentionJob) runPrune(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to prune %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("pruned %s", name)
	}
}
