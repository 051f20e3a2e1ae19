// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package api is the operation facade consumed by the HTTP layer and the
// CLI: create/get/pause/resume upgrade sessions and the startup recovery
// sweep. Policy violations are returned synchronously; faults inside a
// running session are recorded in the session record instead.
package api

import (
	"errors"
	"time"

	"github.com/unisim/upgradectl/pkg/runner"
	"github.com/unisim/upgradectl/pkg/session"
)

// The creation-policy sentinels are the store's own errors: enforcement
// lives inside the store's lock, this package only re-exports them.
var (
	ErrActiveSessionExists = session.ErrActiveExists
	ErrSessionNotFound     = errors.New("upgrade session not found")
	ErrNoCandidate         = session.ErrNoCandidate
	ErrCandidateNotFound   = session.ErrCandidateNotFound
	ErrNotInProgress       = errors.New("session is not in progress and cannot be paused")
	ErrNotPaused           = errors.New("session is not in a paused state and cannot be resumed")
)

const defaultSettleDelay = 500 * time.Millisecond

type (
	// Orchestrator owns the session lifecycle on top of the store and the
	// runner supervisor.
	Orchestrator struct {
		store       *session.Store
		sup         *runner.Supervisor
		settleDelay time.Duration
	}

	OrchestratorOpt func(*Orchestrator)
)

// WithSettleDelay sets how long the recovery sweep waits before re-launching
// runners for persisted in-flight sessions.
func WithSettleDelay(d time.Duration) OrchestratorOpt {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.settleDelay = d
		}
	}
}

func New(store *session.Store, sup *runner.Supervisor, options ...OrchestratorOpt) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		sup:         sup,
		settleDelay: defaultSettleDelay,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Store exposes the underlying store for read-only collaborators such as
// the reboot-reset middleware.
func (o *Orchestrator) Store() *session.Store {
	return o.store
}
