// Package runsvc coordinates pipeline runs for the API server: it assigns
// run IDs, executes the supervisor loop in the background, streams progress
// events, persists results, and archives winning artifact sets.
package runsvc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"drivergen/internal/driver"
	"drivergen/internal/runstore"
	"drivergen/internal/supervisor"
)

// Archiver stores a run's winning artifacts. Optional.
type Archiver interface {
	Archive(ctx context.Context, runID string, artifacts []driver.Artifact) error
}

// Status is the externally visible state of one run.
type Status struct {
	RunID     string                   `json:"run_id"`
	Target    string                   `json:"target"`
	Running   bool                     `json:"running"`
	CreatedAt time.Time                `json:"created_at"`
	Result    *driver.SupervisorResult `json:"result,omitempty"`
}

type Service struct {
	loop    *supervisor.Loop
	store   *runstore.Store
	archive Archiver
	budgets supervisor.Budgets
	hub     *hub

	mu     sync.RWMutex
	active map[string]Status

	wg sync.WaitGroup
}

func New(loop *supervisor.Loop, store *runstore.Store, archive Archiver, budgets supervisor.Budgets) *Service {
	return &Service{
		loop:    loop,
		store:   store,
		archive: archive,
		budgets: budgets,
		hub:     newHub(),
		active:  make(map[string]Status),
	}
}

// Start launches a run in the background and returns its ID immediately.
func (s *Service) Start(ctx context.Context, req driver.ArtifactRequest) string {
	runID := newRunID()
	status := Status{RunID: runID, Target: req.Target, Running: true, CreatedAt: time.Now().UTC()}

	s.mu.Lock()
	s.active[runID] = status
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, runID, req, status.CreatedAt)
	}()
	return runID
}

// RunSync executes a run on the caller's goroutine, for the CLI.
func (s *Service) RunSync(ctx context.Context, req driver.ArtifactRequest) (string, driver.SupervisorResult) {
	runID := newRunID()
	now := time.Now().UTC()

	s.mu.Lock()
	s.active[runID] = Status{RunID: runID, Target: req.Target, Running: true, CreatedAt: now}
	s.mu.Unlock()

	res := s.execute(ctx, runID, req, now)
	return runID, res
}

func (s *Service) execute(ctx context.Context, runID string, req driver.ArtifactRequest, startedAt time.Time) driver.SupervisorResult {
	// Per-run loop copy so the hook can tag events with this run's ID
	// without racing concurrent runs.
	loop := *s.loop
	loop.Hook = supervisor.HookFunc(func(_ context.Context, ev supervisor.Event) {
		s.hub.publish(runID, ev)
	})

	res := loop.Run(ctx, req, s.budgets)

	if err := s.store.Put(runstore.Record{
		RunID:     runID,
		Target:    req.Target,
		CreatedAt: startedAt,
		Result:    res,
	}); err != nil {
		log.Printf("runsvc: persist run %s: %v", runID, err)
	}

	if s.archive != nil && res.Success && len(res.Artifacts) > 0 {
		actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.archive.Archive(actx, runID, res.Artifacts); err != nil {
			log.Printf("runsvc: archive run %s: %v", runID, err)
		}
	}

	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
	s.hub.closeRun(runID)

	log.Printf("runsvc: run %s finished: outcome=%s attempts=%d", runID, res.Outcome, res.SupervisorAttempts)
	return res
}

// Get returns the current status of a run, finished or in flight.
func (s *Service) Get(runID string) (Status, bool) {
	s.mu.RLock()
	status, ok := s.active[runID]
	s.mu.RUnlock()
	if ok {
		return status, true
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return Status{}, false
	}
	res := rec.Result
	return Status{
		RunID:     rec.RunID,
		Target:    rec.Target,
		CreatedAt: rec.CreatedAt,
		Result:    &res,
	}, true
}

// List returns finished runs, newest first.
func (s *Service) List(limit int) []runstore.Record {
	return s.store.List(limit)
}

// Subscribe streams progress events for a run until ctx ends or the run
// finishes. For a run that is not in flight the channel is closed
// immediately.
func (s *Service) Subscribe(ctx context.Context, runID string) <-chan supervisor.Event {
	s.mu.RLock()
	_, running := s.active[runID]
	s.mu.RUnlock()
	if !running {
		ch := make(chan supervisor.Event)
		close(ch)
		return ch
	}
	return s.hub.subscribe(ctx, runID)
}

// Wait blocks until all in-flight runs finish. Used during shutdown.
func (s *Service) Wait() { s.wg.Wait() }

func newRunID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "run-" + hex.EncodeToString([]byte(time.Now().Format("150405.000")))
	}
	return "run-" + hex.EncodeToString(b[:])
}
