// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/unisim/upgradectl/pkg/session"
)

const (
	// DefaultSpeedFactor divides nominal task durations; 40 keeps the reboot
	// phase long enough to observe the simulated connection drop.
	DefaultSpeedFactor = 40.0
	// DefaultPollInterval is how often a paused runner re-checks its session.
	DefaultPollInterval = 100 * time.Millisecond
)

type (
	// Supervisor owns the background runners: at most one per session id,
	// idempotent start, cooperative stop. Registration membership is the
	// liveness signal a runner polls between progress increments.
	Supervisor struct {
		store        *session.Store
		speedFactor  float64
		pollInterval time.Duration

		mu      sync.Mutex
		running map[string]struct{}
		wg      sync.WaitGroup
	}

	SupervisorOpt func(*Supervisor)
)

func WithSpeedFactor(factor float64) SupervisorOpt {
	return func(s *Supervisor) {
		if factor > 0 {
			s.speedFactor = factor
		}
	}
}

func WithPollInterval(interval time.Duration) SupervisorOpt {
	return func(s *Supervisor) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

func NewSupervisor(store *session.Store, options ...SupervisorOpt) *Supervisor {
	s := &Supervisor{
		store:        store,
		speedFactor:  DefaultSpeedFactor,
		pollInterval: DefaultPollInterval,
		running:      map[string]struct{}{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Start launches a runner for the session unless one is already registered,
// in which case it is a logged no-op.
func (s *Supervisor) Start(sessionID string) {
	s.mu.Lock()
	if _, ok := s.running[sessionID]; ok {
		s.mu.Unlock()
		log.Warn().Str("session", sessionID).Msg("runner already active, not starting another")
		return
	}
	s.running[sessionID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	log.Info().Str("session", sessionID).Msg("starting upgrade runner")
	go s.runSession(sessionID)
}

func (s *Supervisor) runSession(sessionID string) {
	defer s.wg.Done()
	defer s.deregister(sessionID)
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("session", sessionID).Msgf("runner panicked: %v", p)
			s.store.Update(sessionID, func(sess *session.UpgradeSession) {
				sess.Status = session.UpgradeFailed
			})
			s.store.AppendMessage(sessionID, fmt.Sprintf("Upgrade failed: %v", p), 2)
		}
	}()

	r := &Runner{
		store:        s.store,
		sup:          s,
		id:           sessionID,
		speedFactor:  s.speedFactor,
		pollInterval: s.pollInterval,
	}
	if err := r.run(); err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("upgrade runner failed")
	}
}

// Alive reports whether a runner is registered for the session.
func (s *Supervisor) Alive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[sessionID]
	return ok
}

// Stop asks the runner to abandon the session at its next poll point and
// marks the session failed. The goroutine is not killed; it observes its
// deregistration cooperatively.
func (s *Supervisor) Stop(sessionID string) {
	s.mu.Lock()
	_, ok := s.running[sessionID]
	delete(s.running, sessionID)
	s.mu.Unlock()
	if !ok {
		log.Warn().Str("session", sessionID).Msg("no active runner for session")
		return
	}

	s.store.Update(sessionID, func(sess *session.UpgradeSession) {
		sess.Status = session.UpgradeFailed
	})
	s.store.AppendMessage(sessionID, "Upgrade simulation was cancelled", 1)
	log.Info().Str("session", sessionID).Msg("stopped upgrade runner")
}

// Wait blocks until every launched runner has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) deregister(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, sessionID)
}
