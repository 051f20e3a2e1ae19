// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"math/rand"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/unisim/upgradectl/pkg/session"
)

const (
	csrfTokenName    = "EMC-CSRF-TOKEN"
	restClientHeader = "X-EMC-REST-CLIENT"
)

// Paths exempt from the CSRF check: login has no token yet and uploads come
// from clients that authenticate per-request.
var csrfExcludedPaths = map[string]struct{}{
	"/api/types/loginSessionInfo/instances":        {},
	"/upload/files/types/candidateSoftwareVersion": {},
}

// Paths the reboot simulation never drops.
var rebootExcludedPrefixes = []string{"/docs", "/openapi.json", "/redoc", "/static"}

func protectedPath(path string) bool {
	return strings.HasPrefix(path, "/api") || strings.HasPrefix(path, "/upload")
}

// requireRESTClient rejects API traffic missing the X-EMC-REST-CLIENT: true
// marker header.
func (s *Server) requireRESTClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if protectedPath(r.URL.Path) && r.Header.Get(restClientHeader) != "true" {
			writeError(w, http.StatusUnauthorized, "Missing or invalid required header: "+restClientHeader)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireCSRF demands a previously issued EMC-CSRF-TOKEN header on mutating
// requests.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}
		if !protectedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if _, excluded := csrfExcludedPaths[r.URL.Path]; excluded {
			next.ServeHTTP(w, r)
			return
		}
		if !s.tokens.Valid(r.Header.Get(csrfTokenName)) {
			log.Warn().Str("path", r.URL.Path).Str("method", r.Method).Msg("rejecting request with missing or invalid CSRF token")
			writeError(w, http.StatusForbidden, "Invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rebootReset simulates the management stack going away while the primary SP
// reboots. When that ledger task is in progress, requests are answered with
// 444 and the connection closed, after flushing state to disk so a client
// reconnecting post-"reboot" sees the session where it left off.
func (s *Server) rebootReset(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rebootExcludedPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !s.shouldReset() {
			next.ServeHTTP(w, r)
			return
		}
		log.Info().Str("remote", r.RemoteAddr).Msg("simulating connection reset during primary SP reboot")
		if s.saveState != nil {
			s.saveState()
		}
		w.Header().Set("Connection", "close")
		w.WriteHeader(444)
		_, _ = w.Write([]byte("Connection reset by peer"))
	})
}

func (s *Server) shouldReset() bool {
	if s.resetProbability < 1.0 && rand.Float64() > s.resetProbability {
		return false
	}
	return s.store.HasRebootTaskInProgress(session.RebootPrimaryCaption)
}
