// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/unisim/upgradectl/internal/auth"
	"github.com/unisim/upgradectl/pkg/api"
	"github.com/unisim/upgradectl/pkg/session"
)

const (
	candidateVersion     = "5.4.0"
	candidateFullVersion = "Unity 5.4.0.0 (Release, Build 150, 2023-06-18 19:02:01, 5.4.0.0.5.150)"

	maxUploadMemory = 32 << 20
)

var eligibilityFailureCodes = []string{"flr::check_server_connectivity_2"}

func (s *Server) getCandidates(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	candidates := s.store.Candidates()
	items := make([]interface{}, len(candidates))
	for i, c := range candidates {
		items[i] = c
	}
	writeCollection(w, r, "candidateSoftwareVersion", items, func(i int) string { return candidates[i].ID })
}

// uploadCandidate accepts a multipart software package. Only the metadata is
// kept; the mock never stores the payload. Uploads are serialized so two
// concurrent clients cannot interleave candidate state.
func (s *Server) uploadCandidate(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field in upload")
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Err(closeErr).Msg("failed to close uploaded file")
		}
	}()

	size, err := io.Copy(io.Discard, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file: "+err.Error())
		return
	}

	uploaded := &session.UploadedFile{
		ID:          "file_" + ulid.Make().String(),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        size,
		UploadTime:  time.Now(),
	}
	s.store.AddUpload(uploaded)
	log.Info().Str("file", uploaded.Filename).Int64("size", size).Msg("accepted software package upload")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       uploaded.ID,
		"filename": uploaded.Filename,
		"size":     size,
	})
}

// prepareCandidate turns the latest upload into the candidate software
// version. There is at most one candidate on the array; preparing replaces
// any previous one.
func (s *Server) prepareCandidate(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	if !s.store.HasUploads() {
		writeError(w, http.StatusBadRequest, "No software package uploaded")
		return
	}

	candidate := &session.CandidateSoftwareVersion{
		ID:                   "candidate_" + uuid.New().String(),
		Version:              candidateVersion,
		FullVersion:          candidateFullVersion,
		Revision:             150,
		ReleaseDate:          time.Now(),
		Type:                 "SOFTWARE",
		RebootRequired:       true,
		CanPauseBeforeReboot: true,
	}
	s.store.ReplaceCandidate(candidate)
	log.Info().Str("candidate", candidate.ID).Str("version", candidate.Version).Msg("prepared candidate software version")

	writeJSON(w, http.StatusOK, map[string]string{"id": candidate.ID, "status": "SUCCESS"})
}

func (s *Server) getUpgradeSessions(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	sessions := s.orch.ListSessions()
	fields := r.URL.Query().Get("fields")

	items := make([]interface{}, len(sessions))
	for i, sess := range sessions {
		if fields == "" {
			items[i] = sess
			continue
		}
		filtered, err := filterFields(sess, fields)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		filtered["id"] = sess.ID
		items[i] = filtered
	}
	writeCollection(w, r, "upgradeSession", items, func(i int) string { return sessions[i].ID })
}

func (s *Server) createUpgradeSession(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	// An empty or invalid body means "use the first available candidate".
	var body struct {
		Candidate string `json:"candidate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		log.Debug().Err(err).Msg("ignoring unparseable create-session body")
	}

	sess, err := s.orch.CreateSession(body.Candidate)
	switch {
	case errors.Is(err, api.ErrActiveSessionExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, api.ErrNoCandidate):
		writeError(w, http.StatusBadRequest, "No candidate software versions available. Please upload and prepare a software package first.")
		return
	case errors.Is(err, api.ErrCandidateNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Candidate %s not found. Please upload and prepare a software package first.", body.Candidate))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": sess.ID})
}

func (s *Server) getUpgradeSession(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	id := mux.Vars(r)["id"]
	sess, err := s.orch.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Session %s not found.", id))
		return
	}

	if fields := r.URL.Query().Get("fields"); fields != "" {
		filtered, ferr := filterFields(sess, fields)
		if ferr != nil {
			writeError(w, http.StatusInternalServerError, ferr.Error())
			return
		}
		writeJSON(w, http.StatusOK, filtered)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) pauseUpgradeSession(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	id := mux.Vars(r)["id"]
	err := s.orch.PauseSession(id)
	switch {
	case errors.Is(err, api.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Session %s not found. Please create an upgrade session first.", id))
		return
	case errors.Is(err, api.ErrNotInProgress):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Session %s is not in progress and cannot be paused.", id))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS"})
}

func (s *Server) resumeUpgradeSession(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	id := mux.Vars(r)["id"]
	err := s.orch.ResumeSession(id)
	switch {
	case errors.Is(err, api.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Session %s not found. Please create an upgrade session first.", id))
		return
	case errors.Is(err, api.ErrNotPaused):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Session %s is not in a paused state and cannot be resumed.", id))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS"})
}

// verifyUpgradeEligibility reports whether the array may be upgraded. The
// configured mode picks the answer: always eligible, always failing, or a
// coin flip at the configured threshold. overallStatus follows the array's
// inverted convention: false means "no problems found".
func (s *Server) verifyUpgradeEligibility(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	fail := false
	switch s.eligibilityMode {
	case "failure":
		fail = true
	case "auto":
		fail = rand.Float64() < s.eligibilityThreshold
	}

	var content map[string]interface{}
	if fail {
		messages := make([]string, len(eligibilityFailureCodes))
		for i, code := range eligibilityFailureCodes {
			messages[i] = "Eligibility check failed: " + code
		}
		content = map[string]interface{}{
			"overallStatus": true,
			"codes":         eligibilityFailureCodes,
			"messages":      messages,
		}
	} else {
		content = map[string]interface{}{
			"overallStatus": false,
			"statusMessage": "",
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updated": isoNow(),
		"content": content,
	})
}

// filterFields projects a session onto the requested comma-separated field
// names, matching on the JSON keys clients see.
func filterFields(sess *session.UpgradeSession, fields string) (map[string]interface{}, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	var full map[string]interface{}
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	filtered := make(map[string]interface{})
	for _, field := range splitFields(fields) {
		if v, ok := full[field]; ok {
			filtered[field] = v
		}
	}
	return filtered, nil
}

func splitFields(fields string) []string {
	var out []string
	for _, f := range strings.Split(fields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
