package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"doc-toc/pkg/orchestrate"
)

// Runner builds a set of documents. *orchestrate.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, keys []string) ([]orchestrate.DocumentResult, error)
}

// Status summarises the scheduler's most recent run
type Status struct {
	Runs         int
	LastRunTime  time.Time
	LastDuration time.Duration
	Built        int
	Skipped      int
	Failed       []string
	LastError    string
	NextRunTime  time.Time
}

// Scheduler rebuilds documents every interval until stopped
type Scheduler struct {
	runner   Runner
	keys     []string
	interval time.Duration
	log      *logrus.Entry

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
}

// NewScheduler creates a new watch scheduler. The runner should be built in incremental mode
// so unchanged documents are skipped between ticks.
func NewScheduler(runner Runner, keys []string, interval time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		runner:   runner,
		keys:     keys,
		interval: interval,
		log:      log,
	}
}

// Run builds immediately and then once per interval. It blocks until ctx is done or Stop is called.
// Builds never overlap; ticks missed during a long build are coalesced.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %v", s.interval)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.log.Infof("Starting watch mode for %d documents with interval %s", len(s.keys), FormatInterval(s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Stop stops the watch scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.log.Info("Stopping watch scheduler...")
		s.cancel()
	}
}

// Status returns a copy of the current run status
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Failed = append([]string(nil), s.status.Failed...)
	return st
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	results, err := s.runner.Run(ctx, s.keys)

	st := Status{
		LastRunTime:  start,
		LastDuration: time.Since(start),
		Failed:       orchestrate.Failed(results),
		NextRunTime:  start.Add(s.interval),
	}
	for _, r := range results {
		switch {
		case r.Error != nil:
		case r.Skipped:
			st.Skipped++
		default:
			st.Built++
		}
	}
	if err != nil {
		st.LastError = err.Error()
		if !errors.Is(err, context.Canceled) {
			s.log.Errorf("Watch run failed: %v", err)
		}
	}

	s.mu.Lock()
	st.Runs = s.status.Runs + 1
	s.status = st
	s.mu.Unlock()

	s.log.Infof("Watch run %d: %d built, %d unchanged, %d failed. Next run at %s",
		st.Runs, st.Built, st.Skipped, len(st.Failed), st.NextRunTime.Format("15:04:05"))
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
