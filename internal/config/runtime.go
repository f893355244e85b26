package config

import "sync"

// RuntimeSettings holds toggles that admins can flip without a restart.
type RuntimeSettings struct {
	mu          sync.RWMutex
	jobsEnabled bool
}

// NewRuntimeSettings seeds the runtime toggles from the loaded config
func NewRuntimeSettings(cfg *Config) *RuntimeSettings {
	return &RuntimeSettings{jobsEnabled: cfg.Queue.JobsEnabled}
}

// IsJobsEnabled reports whether background jobs may be enqueued
func (s *RuntimeSettings) IsJobsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobsEnabled
}

// SetJobsEnabled flips the background job toggle
func (s *RuntimeSettings) SetJobsEnabled(enabled bool) {
	s.mu.Lock()
	s.jobsEnabled = enabled
	s.mu.Unlock()
}
