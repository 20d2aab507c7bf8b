package worker

import (
	"context"
	"sync"
	"time"

	"slotbook/internal/metrics"

	"github.com/rs/zerolog"
)

// Job is one periodic sweep. Run returns how many items it handled.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

type Sweeper struct {
	jobs   []Job
	logger *zerolog.Logger
	wg     sync.WaitGroup
}

func NewSweeper(logger *zerolog.Logger, jobs ...Job) *Sweeper {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Sweeper{jobs: jobs, logger: logger}
}

// Start runs every job once immediately and then on its interval until ctx
// is done.
func (s *Sweeper) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			job.Interval = time.Minute
		}
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()

			s.RunOnce(ctx, job)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.RunOnce(ctx, job)
				}
			}
		}(job)
	}
}

func (s *Sweeper) Wait() {
	s.wg.Wait()
}

// RunOnce executes job and records the outcome. Errors are logged only.
func (s *Sweeper) RunOnce(ctx context.Context, job Job) int {
	start := time.Now()
	n, err := job.Run(ctx)
	if n > 0 {
		metrics.AddSwept(job.Name, n)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Int("handled", n).Msg("Sweep failed")
		return n
	}
	if n > 0 {
		s.logger.Info().Str("job", job.Name).Int("handled", n).Dur("took", time.Since(start)).Msg("Sweep finished")
	}
	return n
}
