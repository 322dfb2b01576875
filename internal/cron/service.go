package cron

import (
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// JobFunc runs one sweep and returns a short human-readable result.
type JobFunc func() (string, error)

// JobState is the last observed outcome of a registered job.
type JobState struct {
	LastRunAt  time.Time
	LastStatus string
	LastError  string
	LastResult string
}

// Service schedules the periodic lifecycle sweeps.
type Service struct {
	mu      sync.Mutex
	cron    *rcron.Cron
	entries map[string]rcron.EntryID
	states  map[string]JobState
	started bool
}

func NewService() *Service {
	return &Service{
		cron:    rcron.New(),
		entries: make(map[string]rcron.EntryID),
		states:  make(map[string]JobState),
	}
}

// AddJob registers a named job with a cron spec ("@every 24h" or a
// standard five-field expression).
func (s *Service) AddJob(name, spec string, run JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		s.executeJob(name, run)
	})
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, spec, err)
	}

	s.entries[name] = id
	s.states[name] = JobState{}
	return nil
}

func (s *Service) executeJob(name string, run JobFunc) {
	log.Printf("[cron] executing job %s", name)
	result, err := run()

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.states[name]
	state.LastRunAt = time.Now()
	if err != nil {
		state.LastStatus = "error"
		state.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", name, err)
	} else {
		state.LastStatus = "ok"
		state.LastError = ""
		state.LastResult = result
		log.Printf("[cron] job %s result: %s", name, truncate(result, 100))
	}
	s.states[name] = state
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	log.Printf("[cron] started with %d jobs", len(s.entries))
}

func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[cron] stop timeout waiting for running jobs")
	}
	log.Printf("[cron] stopped")
}

// States returns a snapshot of every job's last outcome.
func (s *Service) States() map[string]JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]JobState, len(s.states))
	for name, state := range s.states {
		out[name] = state
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
