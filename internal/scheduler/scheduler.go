package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"moonwatch/internal/logger"
	"moonwatch/internal/reconcile"
)

// jobKind selects which engine pass a job runs.
type jobKind int

const (
	jobImport jobKind = iota
	jobReconcile
	jobObservers
	jobScan
)

func (k jobKind) String() string {
	switch k {
	case jobImport:
		return "import"
	case jobReconcile:
		return "reconcile"
	case jobObservers:
		return "observers"
	case jobScan:
		return "scan"
	}
	return "unknown"
}

type job struct {
	kind        jobKind
	characterID int64
	scanText    string
	submitterID string
}

// Scheduler fans queued engine passes out to a fixed worker pool and drives
// the periodic import and observer passes.
type Scheduler struct {
	engine  *reconcile.Engine
	jobs    chan job
	workers int

	importEvery   time.Duration
	observerEvery time.Duration

	wg sync.WaitGroup
}

// New builds a scheduler over the given engine. workers must be >= 1.
func New(engine *reconcile.Engine, workers int, importEvery, observerEvery time.Duration) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		engine:        engine,
		jobs:          make(chan job, 256),
		workers:       workers,
		importEvery:   importEvery,
		observerEvery: observerEvery,
	}
}

// Start launches the worker pool and the periodic tickers. It returns
// immediately; Stop (after cancelling ctx) waits for in-flight jobs.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Add(1)
	go s.tick(ctx)
	logger.Info("Scheduler", fmt.Sprintf("Started %d worker(s), import every %s, observers every %s",
		s.workers, s.importEvery, s.observerEvery))
}

// Stop waits for workers and tickers to drain. Call after cancelling the
// context passed to Start.
func (s *Scheduler) Stop() {
	s.wg.Wait()
}

// EnqueueImport schedules a full extraction import pass.
func (s *Scheduler) EnqueueImport() {
	s.submit(job{kind: jobImport})
}

// EnqueueReconcile schedules a notification pass for one character. Satisfies
// the engine's Enqueuer so imports chain reconciliation behind themselves.
func (s *Scheduler) EnqueueReconcile(characterID int64) {
	s.submit(job{kind: jobReconcile, characterID: characterID})
}

// EnqueueObservers schedules an observer flag refresh.
func (s *Scheduler) EnqueueObservers() {
	s.submit(job{kind: jobObservers})
}

// EnqueueScan schedules ingestion of pasted survey text.
func (s *Scheduler) EnqueueScan(rawText, submitterID string) {
	s.submit(job{kind: jobScan, scanText: rawText, submitterID: submitterID})
}

// submit is fire and forget. A full queue drops the job: every periodic pass
// is re-run on its next tick anyway, and blocking an HTTP handler on queue
// space would be worse than a delayed refresh.
func (s *Scheduler) submit(j job) {
	select {
	case s.jobs <- j:
	default:
		logger.Warn("Scheduler", fmt.Sprintf("Queue full, dropped %s job", j.kind))
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			s.run(ctx, j)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j job) {
	var err error
	switch j.kind {
	case jobImport:
		err = s.engine.ImportExtractions(ctx)
	case jobReconcile:
		err = s.engine.Reconcile(ctx, j.characterID)
	case jobObservers:
		err = s.engine.UpdateObservers(ctx)
	case jobScan:
		s.engine.Ingest(ctx, j.scanText, j.submitterID)
	}
	if err != nil && ctx.Err() == nil {
		logger.Warn("Scheduler", fmt.Sprintf("%s job failed: %v", j.kind, err))
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defer s.wg.Done()

	importTicker := time.NewTicker(s.importEvery)
	observerTicker := time.NewTicker(s.observerEvery)
	defer importTicker.Stop()
	defer observerTicker.Stop()

	// Prime the pipeline once at startup rather than waiting a full interval.
	s.EnqueueImport()
	s.EnqueueObservers()

	for {
		select {
		case <-ctx.Done():
			return
		case <-importTicker.C:
			s.EnqueueImport()
		case <-observerTicker.C:
			s.EnqueueObservers()
		}
	}
}
