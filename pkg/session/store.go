// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned by Apply when the session id is unknown.
	ErrNotFound = errors.New("upgrade session not found")

	// ErrActiveExists is returned by PutIfNoActive while another session is
	// still in a non-terminal status.
	ErrActiveExists = errors.New("an active upgrade session already exists")

	// ErrNoCandidate is returned by PutIfNoActive when no candidate software
	// version is available.
	ErrNoCandidate = errors.New("no candidate software versions available")

	// ErrCandidateNotFound is returned by PutIfNoActive for an unknown
	// candidate id.
	ErrCandidateNotFound = errors.New("candidate software version not found")
)

type (
	// AuditSink receives a copy of every message appended to any session.
	// Implementations must not block for long; failures are theirs to log.
	AuditSink interface {
		Record(sessionID string, msg UpgradeMessage)
	}

	// Store is the single source of truth for sessions, candidates and
	// uploads. All mutations take the store lock so multi-field updates
	// (e.g. status change plus message append) are observed together;
	// reads return deep copies, never live records.
	Store struct {
		mu         sync.RWMutex
		sessions   map[string]*UpgradeSession
		candidates map[string]*CandidateSoftwareVersion
		uploads    map[string]*UploadedFile
		audit      AuditSink
	}

	StoreOpt func(*Store)
)

// WithAuditSink attaches an audit trail for appended messages.
func WithAuditSink(sink AuditSink) StoreOpt {
	return func(s *Store) {
		s.audit = sink
	}
}

func NewStore(options ...StoreOpt) *Store {
	s := &Store{
		sessions:   map[string]*UpgradeSession{},
		candidates: map[string]*CandidateSoftwareVersion{},
		uploads:    map[string]*UploadedFile{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Get returns a copy of the session, or false if it does not exist.
func (s *Store) Get(id string) (*UpgradeSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// List returns copies of all sessions ordered by creation time.
func (s *Store) List() []*UpgradeSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*UpgradeSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreationTime.Before(out[j].CreationTime)
	})
	return out
}

// Put stores a copy of the session, replacing any record with the same id.
func (s *Store) Put(sess *UpgradeSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
}

// PutIfNoActive checks that no session is in a non-terminal status, resolves
// the candidate (an empty id selects the sole one), builds a session from it
// via build and inserts the result — all under a single lock acquisition, so
// two concurrent creates cannot both pass the active-session check and one
// clobber the other's running session. Returns a copy of the inserted
// session.
func (s *Store) PutIfNoActive(candidateID string, build func(c *CandidateSoftwareVersion) *UpgradeSession) (*UpgradeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if !sess.Status.Terminal() {
			return nil, fmt.Errorf("%w (ID: %s)", ErrActiveExists, sess.ID)
		}
	}

	var candidate *CandidateSoftwareVersion
	if candidateID == "" {
		for _, c := range s.candidates {
			candidate = c
			break
		}
		if candidate == nil {
			return nil, ErrNoCandidate
		}
	} else {
		c, ok := s.candidates[candidateID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCandidateNotFound, candidateID)
		}
		candidate = c
	}

	copied := *candidate
	sess := build(&copied)
	s.sessions[sess.ID] = sess.Clone()
	return sess.Clone(), nil
}

// Update applies fn to the session record under the store lock, giving
// callers atomic read-modify-write over the whole record: a status change
// and a message appended in the same closure are observed together by any
// concurrent reader. It returns false if the session does not exist.
func (s *Store) Update(id string, fn func(*UpgradeSession)) bool {
	err := s.Apply(id, func(sess *UpgradeSession) error {
		fn(sess)
		return nil
	})
	return err == nil
}

// Apply is Update with a veto: if fn returns an error the record keeps any
// mutation fn made before failing, so conditional updates must check their
// precondition first. Messages appended by fn are forwarded to the audit
// sink after the lock is released.
func (s *Store) Apply(id string, fn func(*UpgradeSession) error) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	before := len(sess.Messages)
	err := fn(sess)
	appended := append([]UpgradeMessage(nil), sess.Messages[before:]...)
	s.mu.Unlock()

	if s.audit != nil {
		for _, msg := range appended {
			s.audit.Record(id, msg)
		}
	}
	return err
}

// AppendMessage appends a timestamped message to the session log.
func (s *Store) AppendMessage(id, text string, severity int) bool {
	return s.Update(id, func(sess *UpgradeSession) {
		sess.AppendMessage(text, severity)
	})
}

// HasRebootTaskInProgress reports whether any session is currently running
// the task with the given caption. Used by the connection-reset middleware.
func (s *Store) HasRebootTaskInProgress(caption string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		for i := range sess.Tasks {
			if sess.Tasks[i].Caption == caption && sess.Tasks[i].Status == TaskInProgress {
				return true
			}
		}
	}
	return false
}

// ReplaceCandidate makes c the sole candidate, dropping any previous one.
func (s *Store) ReplaceCandidate(c *CandidateSoftwareVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *c
	s.candidates = map[string]*CandidateSoftwareVersion{c.ID: &copied}
}

func (s *Store) Candidate(id string) (*CandidateSoftwareVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	if !ok {
		return nil, false
	}
	copied := *c
	return &copied, true
}

// FirstCandidate returns the sole candidate, if any.
func (s *Store) FirstCandidate() (*CandidateSoftwareVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.candidates {
		copied := *c
		return &copied, true
	}
	return nil, false
}

func (s *Store) Candidates() []*CandidateSoftwareVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CandidateSoftwareVersion, 0, len(s.candidates))
	for _, c := range s.candidates {
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) RemoveCandidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.candidates, id)
}

func (s *Store) AddUpload(f *UploadedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *f
	s.uploads[f.ID] = &copied
}

func (s *Store) HasUploads() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads) > 0
}

// SessionsSnapshot returns a deep copy of the session collection keyed by
// id, for the persistence layer.
func (s *Store) SessionsSnapshot() map[string]*UpgradeSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*UpgradeSession, len(s.sessions))
	for id, sess := range s.sessions {
		out[id] = sess.Clone()
	}
	return out
}

// CandidatesSnapshot returns a deep copy of the candidate collection.
func (s *Store) CandidatesSnapshot() map[string]*CandidateSoftwareVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*CandidateSoftwareVersion, len(s.candidates))
	for id, c := range s.candidates {
		copied := *c
		out[id] = &copied
	}
	return out
}

// Restore replaces both collections with the loaded state. Intended for
// startup, before any runner is launched.
func (s *Store) Restore(sessions map[string]*UpgradeSession, candidates map[string]*CandidateSoftwareVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[string]*UpgradeSession{}
	for id, sess := range sessions {
		s.sessions[id] = sess.Clone()
	}
	s.candidates = map[string]*CandidateSoftwareVersion{}
	for id, c := range candidates {
		copied := *c
		s.candidates[id] = &copied
	}
}
