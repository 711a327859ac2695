package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scanner is the reminder scan the job triggers.
type Scanner interface {
	ScanAndFlag(ctx context.Context, now time.Time) (int, error)
}

// ReminderJob runs the reminder scan on a fixed interval inside the
// process, for deployments without an external scheduler.
type ReminderJob struct {
	scanner  Scanner
	interval time.Duration
	now      func() time.Time
	log      logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReminderJob creates a new reminder job scheduler
func NewReminderJob(scanner Scanner, interval time.Duration, log logrus.FieldLogger) *ReminderJob {
	return &ReminderJob{
		scanner:  scanner,
		interval: interval,
		now:      time.Now,
		log:      log,
	}
}

// Start begins the scheduled scan. It is a no-op if already running.
func (j *ReminderJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		j.log.Warn("Reminder job already running")
		return
	}

	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	j.log.WithField("interval", j.interval).Info("Starting scheduled reminder scan")
	go j.loop(ctx, j.done)
}

// Stop halts the job and waits for a running scan to finish.
func (j *ReminderJob) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	j.log.Info("Stopping scheduled reminder scan")
	cancel()
	<-done
}

func (j *ReminderJob) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ReminderJob) runOnce(ctx context.Context) {
	flagged, err := j.scanner.ScanAndFlag(ctx, j.now())
	if err != nil {
		if ctx.Err() == nil {
			j.log.WithError(err).Error("Scheduled reminder scan failed")
		}
		return
	}
	if flagged > 0 {
		j.log.WithField("sent", flagged).Info("Scheduled reminders sent")
	}
}
