package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/config"
	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/metrics"
	"github.com/watzon/oncue/internal/runlog"
	"github.com/watzon/oncue/internal/scripts"
)

const (
	defaultRunTimeout     = 10 * time.Minute
	defaultQueueHighWater = 100
	backlogWarnEvery      = 5 * time.Second
)

// Task is one claimed fire ready to run: the job and the pending
// execution record created alongside the claim.
type Task struct {
	Job    *job.Job
	Record *runlog.Record
}

// Pool runs tasks on a fixed set of workers. Submit never blocks the
// scheduler: the bounded queue is tried first, and everything past it
// lands on an unbounded overflow backlog drained by a dispatcher
// goroutine. A job never runs twice concurrently; an overlapping fire
// is finalized as canceled instead of queued.
type Pool struct {
	runner  *Runner
	scripts *scripts.Service
	runs    *runlog.Store

	workers        int
	defaultTimeout time.Duration
	highWater      int

	queue      chan *Task
	overflow   []*Task
	overflowMu sync.Mutex
	overflowCh chan struct{}

	inflight   map[string]struct{}
	inflightMu sync.Mutex

	running         atomic.Int64
	lastBacklogWarn int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates an executor pool. Zero config values fall back to
// defaults: workers to the CPU count, queue depth to twice the workers.
func NewPool(cfg *config.ExecutorConfig, scriptsSvc *scripts.Service, runs *runlog.Store) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = workers * 2
	}

	highWater := cfg.QueueHighWater
	if highWater <= 0 {
		highWater = defaultQueueHighWater
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		runner:         NewRunner(cfg),
		scripts:        scriptsSvc,
		runs:           runs,
		workers:        workers,
		defaultTimeout: timeout,
		highWater:      highWater,
		queue:          make(chan *Task, depth),
		overflowCh:     make(chan struct{}, 1),
		inflight:       make(map[string]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the workers and the overflow dispatcher.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.wg.Add(1)
	go p.dispatcher()

	log.Info().
		Int("workers", p.workers).
		Int("queue_depth", cap(p.queue)).
		Msg("Executor pool started")
}

// Stop kills running scripts and waits for all workers to exit.
// Tasks still queued are dropped; their pending records are swept into
// canceled by the shutdown or startup cleanup.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()

	log.Info().Msg("Executor pool stopped")
}

// Submit queues a claimed task for execution. A task for a job that is
// already queued or running is not queued again: its record is
// finalized as canceled so the skipped fire stays visible in history.
func (p *Pool) Submit(task *Task) {
	if !p.tryAcquire(task.Job.ID) {
		p.finalizeSkipped(task)
		return
	}

	p.enqueue(task)
}

// Stats returns a snapshot of pool occupancy.
type Stats struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	Overflow int `json:"overflow"`
	Running  int `json:"running"`
}

func (p *Pool) Stats() Stats {
	p.overflowMu.Lock()
	overflow := len(p.overflow)
	p.overflowMu.Unlock()

	return Stats{
		Workers:  p.workers,
		Queued:   len(p.queue),
		Overflow: overflow,
		Running:  int(p.running.Load()),
	}
}

func (p *Pool) enqueue(task *Task) {
	p.overflowMu.Lock()
	if len(p.overflow) == 0 {
		select {
		case p.queue <- task:
			p.overflowMu.Unlock()
			p.updateGauges()
			return
		default:
		}
	}
	// Keep rough FIFO: once anything has overflowed, everything goes
	// through the overflow until the dispatcher drains it.
	p.overflow = append(p.overflow, task)
	backlog := len(p.queue) + len(p.overflow)
	p.overflowMu.Unlock()

	select {
	case p.overflowCh <- struct{}{}:
	default:
	}

	p.updateGauges()
	p.warnBacklog(backlog)
}

func (p *Pool) dispatcher() {
	defer p.wg.Done()

	for {
		task := p.nextOverflow()
		if task == nil {
			return
		}

		select {
		case p.queue <- task:
			p.updateGauges()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) nextOverflow() *Task {
	for {
		p.overflowMu.Lock()
		if len(p.overflow) > 0 {
			task := p.overflow[0]
			p.overflow = p.overflow[1:]
			p.overflowMu.Unlock()
			return task
		}
		p.overflowMu.Unlock()

		select {
		case <-p.ctx.Done():
			return nil
		case <-p.overflowCh:
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			p.execute(task)
		}
	}
}

func (p *Pool) execute(task *Task) {
	defer p.release(task.Job.ID)

	p.running.Add(1)
	p.updateGauges()
	defer func() {
		p.running.Add(-1)
		p.updateGauges()
	}()

	rec := task.Record
	started := time.Now().UTC()

	if err := p.runs.MarkRunning(p.ctx, rec.ID, started); err != nil {
		log.Error().Err(err).Str("job", task.Job.Name).Str("run_id", rec.ID).
			Msg("Failed to mark execution running")
		return
	}

	log.Info().
		Str("job", task.Job.Name).
		Str("run_id", rec.ID).
		Str("script", task.Job.ScriptRef).
		Msg("Running job")

	path, cleanup, err := p.scripts.Resolve(p.ctx, task.Job.ScriptRef)
	if err != nil {
		msg := fmt.Sprintf("resolving script %s: %v", task.Job.ScriptRef, err)
		if errors.Is(err, scripts.ErrNotFound) {
			msg = fmt.Sprintf("script %s not found", task.Job.ScriptRef)
		}
		p.finalize(task, rec, started, runlog.StatusFailed, msg, nil, "", 0)
		return
	}
	defer cleanup()

	timeout := p.defaultTimeout
	if task.Job.TimeoutSeconds > 0 {
		timeout = time.Duration(task.Job.TimeoutSeconds) * time.Second
	}

	res := p.runner.Run(p.ctx, &Request{
		ScriptPath: path,
		Timeout:    timeout,
		Env: []string{
			"ONCUE_JOB_ID=" + task.Job.ID,
			"ONCUE_JOB_NAME=" + task.Job.Name,
			"ONCUE_RUN_ID=" + rec.ID,
			"ONCUE_SCHEDULED_AT=" + rec.ScheduledAt.UTC().Format(time.RFC3339),
			"ONCUE_TRIGGER=" + string(rec.Trigger),
		},
	})

	status := runlog.StatusSuccess
	errMsg := ""
	switch {
	case res.TimedOut:
		status = runlog.StatusTimedOut
		errMsg = fmt.Sprintf("timed out after %s", timeout)
	case res.Canceled:
		status = runlog.StatusCanceled
		errMsg = "canceled by shutdown"
	case res.Err != nil:
		status = runlog.StatusFailed
		errMsg = res.Err.Error()
	}

	p.finalize(task, rec, started, status, errMsg, res.ExitCode, res.Output, res.Duration)
}

// finalize writes the terminal record. It uses a fresh context so the
// outcome still lands when the pool context is already canceled.
func (p *Pool) finalize(task *Task, rec *runlog.Record, started time.Time, status runlog.Status, errMsg string, exitCode *int, output string, duration time.Duration) {
	finished := time.Now().UTC()

	rec.Status = status
	rec.StartedAt = &started
	rec.FinishedAt = &finished
	rec.DurationMs = duration.Milliseconds()
	rec.ExitCode = exitCode
	rec.Output = output
	rec.Error = errMsg

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.runs.Finish(ctx, rec); err != nil {
		log.Error().Err(err).Str("job", task.Job.Name).Str("run_id", rec.ID).
			Msg("Failed to record execution outcome")
	}

	metrics.RecordExecution(task.Job.Name, string(status), duration)

	event := log.Info()
	if status != runlog.StatusSuccess {
		event = log.Warn()
	}
	event.
		Str("job", task.Job.Name).
		Str("run_id", rec.ID).
		Str("status", string(status)).
		Dur("duration", duration).
		Msg("Job finished")
}

// finalizeSkipped closes the record of a fire that overlapped a still
// running execution of the same job.
func (p *Pool) finalizeSkipped(task *Task) {
	rec := task.Record
	finished := time.Now().UTC()

	rec.Status = runlog.StatusCanceled
	rec.FinishedAt = &finished
	rec.Error = "skipped: previous run still in flight"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.runs.Finish(ctx, rec); err != nil {
		log.Error().Err(err).Str("job", task.Job.Name).Str("run_id", rec.ID).
			Msg("Failed to record skipped fire")
	}

	metrics.RecordExecution(task.Job.Name, string(runlog.StatusCanceled), 0)

	log.Info().
		Str("job", task.Job.Name).
		Str("run_id", rec.ID).
		Msg("Fire skipped, previous run still in flight")
}

// tryAcquire reserves a job for execution. Skip-if-running also means
// skip-if-queued, which keeps a fast schedule from piling up tasks
// behind a slow script.
func (p *Pool) tryAcquire(jobID string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	if _, busy := p.inflight[jobID]; busy {
		return false
	}
	p.inflight[jobID] = struct{}{}
	return true
}

func (p *Pool) release(jobID string) {
	p.inflightMu.Lock()
	delete(p.inflight, jobID)
	p.inflightMu.Unlock()
}

func (p *Pool) updateGauges() {
	p.overflowMu.Lock()
	overflow := len(p.overflow)
	p.overflowMu.Unlock()

	metrics.UpdateExecutorStats(len(p.queue), overflow, int(p.running.Load()))
}

func (p *Pool) warnBacklog(backlog int) {
	if backlog < p.highWater {
		return
	}

	now := time.Now().UnixNano()
	prev := atomic.LoadInt64(&p.lastBacklogWarn)
	if prev != 0 && now-prev < int64(backlogWarnEvery) {
		return
	}
	if !atomic.CompareAndSwapInt64(&p.lastBacklogWarn, prev, now) {
		return
	}

	log.Warn().
		Int("backlog", backlog).
		Int("high_water", p.highWater).
		Msg("Executor backlog above high water mark")
}
