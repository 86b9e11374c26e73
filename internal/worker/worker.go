// Package worker runs scheduled maintenance jobs in the background.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"projectbrowser/internal/logging"
	"projectbrowser/internal/telemetry"
)

// JobFunc is the body of a scheduled job
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule string
	run      JobFunc
}

// Worker schedules maintenance jobs on cron expressions
type Worker struct {
	cron   *cron.Cron
	jobs   map[string]job
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Worker
func New() *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{}
	return &Worker{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		jobs:   make(map[string]job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under name on schedule. Schedules use the standard
// five-field syntax or descriptors such as "@every 1h".
func (w *Worker) Add(name, schedule string, fn JobFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	j := job{name: name, schedule: schedule, run: fn}
	if _, err := w.cron.AddFunc(schedule, func() { w.execute(j) }); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}
	w.jobs[name] = j
	return nil
}

func (w *Worker) execute(j job) {
	started := time.Now()
	err := j.run(w.ctx)
	telemetry.RecordMaintenance(j.name, err)
	if err != nil {
		logging.Err(err, "Scheduled job failed", map[string]interface{}{"job": j.name})
		return
	}
	logging.Debugf("Job %s finished in %s", j.name, time.Since(started).Round(time.Millisecond))
}

// RunNow runs a registered job immediately in the caller's goroutine
func (w *Worker) RunNow(ctx context.Context, name string) error {
	w.mu.Lock()
	j, ok := w.jobs[name]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	err := j.run(ctx)
	telemetry.RecordMaintenance(j.name, err)
	return err
}

// Start begins running jobs on their schedules
func (w *Worker) Start() {
	w.cron.Start()
	logging.Infof("Maintenance worker started with %d jobs", len(w.jobs))
}

// Stop cancels running jobs and waits for them to return
func (w *Worker) Stop() {
	w.cancel()
	<-w.cron.Stop().Done()
}

// cronLogger routes cron's own messages through the application logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Err(err, "cron: "+msg, map[string]interface{}{"details": fmt.Sprint(keysAndValues...)})
}
