// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSink) Record(sessionID string, msg UpgradeMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, sessionID+": "+msg.Message)
}

func newTestSession(id string) *UpgradeSession {
	return &UpgradeSession{
		ID:           id,
		Status:       UpgradeNotStarted,
		CreationTime: time.Now(),
		Messages:     []UpgradeMessage{},
		Tasks:        NewTaskLedger(time.Now()),
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store := NewStore()
	store.Put(newTestSession("Upgrade_5.4.0"))

	got, ok := store.Get("Upgrade_5.4.0")
	require.True(t, ok)
	got.Status = UpgradeFailed
	got.Tasks[0].Status = TaskCompleted

	again, _ := store.Get("Upgrade_5.4.0")
	require.Equal(t, UpgradeNotStarted, again.Status)
	require.Equal(t, TaskPending, again.Tasks[0].Status)
}

func TestStore_UpdateIsAtomicWithMessages(t *testing.T) {
	sink := &recordingSink{}
	store := NewStore(WithAuditSink(sink))
	store.Put(newTestSession("Upgrade_5.4.0"))

	err := store.Apply("Upgrade_5.4.0", func(s *UpgradeSession) error {
		s.Status = UpgradePaused
		s.Tasks[1].Status = TaskPaused
		s.AppendMessage("Paused upgrade at task 2", 0)
		return nil
	})
	require.NoError(t, err)

	got, _ := store.Get("Upgrade_5.4.0")
	require.Equal(t, UpgradePaused, got.Status)
	require.Equal(t, TaskPaused, got.Tasks[1].Status)
	require.Len(t, got.Messages, 1)

	// Messages appended inside Apply reach the audit sink.
	require.Equal(t, []string{"Upgrade_5.4.0: Paused upgrade at task 2"}, sink.messages)
}

func TestStore_ApplyKeepsMutationsOnError(t *testing.T) {
	store := NewStore()
	store.Put(newTestSession("Upgrade_5.4.0"))

	boom := errors.New("precondition failed")
	err := store.Apply("Upgrade_5.4.0", func(s *UpgradeSession) error {
		s.PercentComplete = 10
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Apply has no rollback: mutations made before the error stick, so
	// conditional updates must check their precondition first.
	got, _ := store.Get("Upgrade_5.4.0")
	require.Equal(t, 10, got.PercentComplete)

	require.ErrorIs(t, store.Apply("missing", func(s *UpgradeSession) error { return nil }), ErrNotFound)
}

func TestStore_PutIfNoActive(t *testing.T) {
	store := NewStore()
	build := func(c *CandidateSoftwareVersion) *UpgradeSession {
		sess := newTestSession("Upgrade_" + c.Version)
		sess.CandidateID = c.ID
		return sess
	}

	_, err := store.PutIfNoActive("", build)
	require.ErrorIs(t, err, ErrNoCandidate)

	store.ReplaceCandidate(&CandidateSoftwareVersion{ID: "candidate_1", Version: "5.4.0"})
	_, err = store.PutIfNoActive("candidate_2", build)
	require.ErrorIs(t, err, ErrCandidateNotFound)

	sess, err := store.PutIfNoActive("candidate_1", build)
	require.NoError(t, err)
	require.Equal(t, "Upgrade_5.4.0", sess.ID)
	require.Equal(t, "candidate_1", sess.CandidateID)

	// A non-terminal session blocks further creates, naming the blocker.
	_, err = store.PutIfNoActive("candidate_1", build)
	require.ErrorIs(t, err, ErrActiveExists)
	require.Contains(t, err.Error(), "Upgrade_5.4.0")

	// Once it reaches a terminal status, creation opens up again.
	store.Update("Upgrade_5.4.0", func(s *UpgradeSession) {
		s.Status = UpgradeCompleted
	})
	_, err = store.PutIfNoActive("", build)
	require.NoError(t, err)
}

func TestStore_HasRebootTaskInProgress(t *testing.T) {
	store := NewStore()
	sess := newTestSession("Upgrade_5.4.0")
	store.Put(sess)
	require.False(t, store.HasRebootTaskInProgress(RebootPrimaryCaption))

	store.Update("Upgrade_5.4.0", func(s *UpgradeSession) {
		s.Tasks[9].Status = TaskInProgress
	})
	require.True(t, store.HasRebootTaskInProgress(RebootPrimaryCaption))

	store.Update("Upgrade_5.4.0", func(s *UpgradeSession) {
		s.Tasks[9].Status = TaskCompleted
	})
	require.False(t, store.HasRebootTaskInProgress(RebootPrimaryCaption))
}

func TestStore_SingleCandidatePolicy(t *testing.T) {
	store := NewStore()
	store.ReplaceCandidate(&CandidateSoftwareVersion{ID: "candidate_1", Version: "5.3.0"})
	store.ReplaceCandidate(&CandidateSoftwareVersion{ID: "candidate_2", Version: "5.4.0"})

	require.Len(t, store.Candidates(), 1)
	_, ok := store.Candidate("candidate_1")
	require.False(t, ok)

	got, ok := store.Candidate("candidate_2")
	require.True(t, ok)
	require.Equal(t, "5.4.0", got.Version)

	first, ok := store.FirstCandidate()
	require.True(t, ok)
	require.Equal(t, "candidate_2", first.ID)

	store.RemoveCandidate("candidate_2")
	require.Empty(t, store.Candidates())
}

func TestStore_RestoreAndSnapshots(t *testing.T) {
	store := NewStore()
	store.Put(newTestSession("Upgrade_5.4.0"))
	store.ReplaceCandidate(&CandidateSoftwareVersion{ID: "candidate_1", Version: "5.4.0"})

	sessions := store.SessionsSnapshot()
	candidates := store.CandidatesSnapshot()

	// Snapshots are deep copies.
	sessions["Upgrade_5.4.0"].Status = UpgradeFailed
	got, _ := store.Get("Upgrade_5.4.0")
	require.Equal(t, UpgradeNotStarted, got.Status)

	fresh := NewStore()
	fresh.Restore(sessions, candidates)
	restored, ok := fresh.Get("Upgrade_5.4.0")
	require.True(t, ok)
	require.Equal(t, UpgradeFailed, restored.Status)
	_, ok = fresh.Candidate("candidate_1")
	require.True(t, ok)
}

func TestStore_Uploads(t *testing.T) {
	store := NewStore()
	require.False(t, store.HasUploads())
	store.AddUpload(&UploadedFile{ID: "file_1", Filename: "unity-5.4.0.bin"})
	require.True(t, store.HasUploads())
}
