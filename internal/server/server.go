// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package server exposes the mock array's REST surface: session-scoped
// upgrade orchestration plus the surrounding authentication, upload and
// system-information endpoints upgrade clients expect to find.
package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/unisim/upgradectl/internal/auth"
	"github.com/unisim/upgradectl/pkg/api"
	"github.com/unisim/upgradectl/pkg/session"
)

// Server holds the handlers' shared state. saveState is invoked before the
// simulated mid-reboot connection drop so a restarted process can pick the
// session back up.
type Server struct {
	orch   *api.Orchestrator
	store  *session.Store
	tokens *auth.TokenStore

	eligibilityMode      string
	eligibilityThreshold float64
	resetProbability     float64

	saveState func()

	// The array accepts one upload at a time.
	uploadMu sync.Mutex
}

type Option func(*Server)

// WithEligibility controls verifyUpgradeEligibility: mode "success",
// "failure" or "auto" with the given failure probability.
func WithEligibility(mode string, threshold float64) Option {
	return func(s *Server) {
		s.eligibilityMode = mode
		s.eligibilityThreshold = threshold
	}
}

// WithResetProbability sets the chance a request is dropped while the
// primary SP reboot task is running.
func WithResetProbability(p float64) Option {
	return func(s *Server) { s.resetProbability = p }
}

// WithSaveState registers the state-save hook run before a simulated
// connection drop.
func WithSaveState(fn func()) Option {
	return func(s *Server) { s.saveState = fn }
}

func New(orch *api.Orchestrator, options ...Option) *Server {
	s := &Server{
		orch:             orch,
		store:            orch.Store(),
		tokens:           auth.NewTokenStore(),
		eligibilityMode:  "success",
		resetProbability: 1.0,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Router builds the full route table. Middleware order matters: the reboot
// simulation runs first so even unauthenticated requests observe the drop,
// then the REST-client header check, then CSRF.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.rebootReset, s.requireRESTClient, s.requireCSRF)

	r.HandleFunc("/api/types/basicSystemInfo/instances", s.getBasicSystemInfo).Methods("GET")
	r.HandleFunc("/api/types/loginSessionInfo/instances", s.authed(s.getLoginSessionInfo)).Methods("GET")
	r.HandleFunc("/api/types/loginSessionInfo/action/logout", s.authed(s.logout)).Methods("POST")
	r.HandleFunc("/api/types/user/instances", s.authed(s.getUsers)).Methods("GET")

	r.HandleFunc("/api/types/installedSoftwareVersion/instances", s.authed(s.getInstalledSoftwareVersions)).Methods("GET")
	r.HandleFunc("/api/instances/installedSoftwareVersion/{id}", s.authed(s.getInstalledSoftwareVersion)).Methods("GET")

	r.HandleFunc("/upload/files/types/candidateSoftwareVersion", s.authed(s.uploadCandidate)).Methods("POST")
	r.HandleFunc("/api/types/candidateSoftwareVersion/instances", s.authed(s.getCandidates)).Methods("GET")
	r.HandleFunc("/api/types/candidateSoftwareVersion/action/prepare", s.authed(s.prepareCandidate)).Methods("POST")

	r.HandleFunc("/api/types/upgradeSession/instances", s.authed(s.getUpgradeSessions)).Methods("GET")
	r.HandleFunc("/api/types/upgradeSession/instances", s.authed(s.createUpgradeSession)).Methods("POST")
	r.HandleFunc("/api/types/upgradeSession/action/verifyUpgradeEligibility", s.authed(s.verifyUpgradeEligibility)).Methods("POST")
	r.HandleFunc("/api/instances/upgradeSession/{id}", s.authed(s.getUpgradeSession)).Methods("GET")
	r.HandleFunc("/api/instances/upgradeSession/{id}/action/pause", s.authed(s.pauseUpgradeSession)).Methods("POST")
	r.HandleFunc("/api/instances/upgradeSession/{id}/action/resume", s.authed(s.resumeUpgradeSession)).Methods("POST")

	return r
}

// authed wraps a handler with basic-auth or CSRF-cookie authentication.
func (s *Server) authed(next func(http.ResponseWriter, *http.Request, *auth.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.currentUser(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next(w, r, user)
	}
}

// currentUser resolves the request's identity: basic auth first, then the
// EMC-CSRF-TOKEN cookie from a prior login.
func (s *Server) currentUser(r *http.Request) (*auth.User, bool) {
	if username, password, ok := r.BasicAuth(); ok {
		if user, ok := auth.Authenticate(username, password); ok {
			return user, true
		}
	}
	if cookie, err := r.Cookie(csrfTokenName); err == nil {
		if user, ok := s.tokens.Lookup(cookie.Value); ok {
			return user, true
		}
	}
	return nil, false
}
