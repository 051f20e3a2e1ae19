// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unisim/upgradectl/pkg/runner"
	"github.com/unisim/upgradectl/pkg/session"
)

const (
	testTimeout = 10 * time.Second
	testTick    = 10 * time.Millisecond
)

// newTestOrchestrator wires a store, supervisor and facade. The speed factor
// scales the canonical ledger's ~90 simulated minutes: fastSpeed compresses a
// full run into tens of milliseconds, slowSpeed keeps sessions running long
// enough to pause or stop them deterministically.
func newTestOrchestrator(t *testing.T, speed float64) (*Orchestrator, *session.Store, *runner.Supervisor) {
	t.Helper()
	store := session.NewStore()
	sup := runner.NewSupervisor(store,
		runner.WithSpeedFactor(speed),
		runner.WithPollInterval(5*time.Millisecond))
	orch := New(store, sup, WithSettleDelay(10*time.Millisecond))
	return orch, store, sup
}

const (
	fastSpeed = 100000
	slowSpeed = 40
)

func addCandidate(store *session.Store, id, version string) {
	store.ReplaceCandidate(&session.CandidateSoftwareVersion{ID: id, Version: version})
}

func TestCreateSession(t *testing.T) {
	orch, store, sup := newTestOrchestrator(t, fastSpeed)
	addCandidate(store, "candidate_1", "5.4.0")

	sess, err := orch.CreateSession("candidate_1")
	require.NoError(t, err)
	require.Equal(t, "Upgrade_5.4.0", sess.ID)
	require.Equal(t, "Upgrade to 5.4.0", sess.Caption)
	require.Equal(t, "candidate_1", sess.CandidateID)
	require.Len(t, sess.Tasks, 12)
	require.Equal(t, "PT0S", sess.ElapsedTime)

	sup.Wait()
	done, err := orch.GetSession(sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.UpgradeCompleted, done.Status)
}

func TestCreateSession_DefaultsToSoleCandidate(t *testing.T) {
	orch, store, sup := newTestOrchestrator(t, fastSpeed)
	addCandidate(store, "candidate_1", "5.4.0")

	sess, err := orch.CreateSession("")
	require.NoError(t, err)
	require.Equal(t, "candidate_1", sess.CandidateID)
	sup.Wait()
}

func TestCreateSession_Errors(t *testing.T) {
	orch, store, sup := newTestOrchestrator(t, fastSpeed)

	_, err := orch.CreateSession("")
	require.ErrorIs(t, err, ErrNoCandidate)

	_, err = orch.CreateSession("candidate_missing")
	require.ErrorIs(t, err, ErrCandidateNotFound)

	// A second session is rejected while one is active, and nothing new is
	// created.
	addCandidate(store, "candidate_1", "5.4.0")
	active := &session.UpgradeSession{
		ID:           "Upgrade_5.3.0",
		Status:       session.UpgradeInProgress,
		CreationTime: time.Now(),
		Tasks:        session.NewTaskLedger(time.Now()),
	}
	store.Put(active)

	_, err = orch.CreateSession("candidate_1")
	require.ErrorIs(t, err, ErrActiveSessionExists)
	require.Len(t, orch.ListSessions(), 1)
	sup.Wait()
}

func TestCreateSession_ConcurrentCreatesAdmitOne(t *testing.T) {
	orch, store, sup := newTestOrchestrator(t, slowSpeed)
	addCandidate(store, "candidate_1", "5.4.0")

	// All creates race for the same candidate; exactly one may win and the
	// losers must not clobber the winner's session record.
	const attempts = 16
	var wg sync.WaitGroup
	var created atomic.Int32
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := orch.CreateSession("candidate_1"); err == nil {
				created.Add(1)
			} else {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	require.EqualValues(t, 1, created.Load())
	for err := range errs {
		require.ErrorIs(t, err, ErrActiveSessionExists)
	}
	require.Len(t, orch.ListSessions(), 1)

	sup.Stop("Upgrade_5.4.0")
	sup.Wait()
}

func TestGetSession_NotFound(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, fastSpeed)
	_, err := orch.GetSession("Upgrade_nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPauseResume(t *testing.T) {
	orch, store, sup := newTestOrchestrator(t, slowSpeed)
	addCandidate(store, "candidate_1", "5.4.0")

	// A long ledger so the session is still running when we pause it.
	sess := &session.UpgradeSession{
		ID:           "Upgrade_5.4.0",
		CandidateID:  "candidate_1",
		Status:       session.UpgradeNotStarted,
		CreationTime: time.Now(),
		Messages:     []session.UpgradeMessage{},
		Tasks:        session.NewTaskLedger(time.Now()),
	}
	store.Put(sess)
	sup.Start(sess.ID)

	require.Eventually(t, func() bool {
		got, _ := orch.GetSession(sess.ID)
		return got != nil && got.Status == session.UpgradeInProgress &&
			got.CurrentTaskIndex(session.TaskInProgress) >= 0
	}, testTimeout, testTick)

	require.NoError(t, orch.PauseSession(sess.ID))

	paused, err := orch.GetSession(sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.UpgradePaused, paused.Status)
	require.GreaterOrEqual(t, paused.CurrentTaskIndex(session.TaskPaused), 0)
	require.Equal(t, "Paused upgrade at task 1", paused.Messages[len(paused.Messages)-1].Message)

	// Pausing twice is rejected.
	require.ErrorIs(t, orch.PauseSession(sess.ID), ErrNotInProgress)

	require.NoError(t, orch.ResumeSession(sess.ID))
	resumed, err := orch.GetSession(sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.UpgradeInProgress, resumed.Status)
	require.Equal(t, "Resumed upgrade at task 1", resumed.Messages[len(resumed.Messages)-1].Message)

	// Resuming a running session is rejected.
	require.ErrorIs(t, orch.ResumeSession(sess.ID), ErrNotPaused)

	sup.Stop(sess.ID)
	sup.Wait()
}

func TestPauseResume_NotFound(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, fastSpeed)
	require.ErrorIs(t, orch.PauseSession("Upgrade_nope"), ErrSessionNotFound)
	require.ErrorIs(t, orch.ResumeSession("Upgrade_nope"), ErrSessionNotFound)
}

func TestRecover(t *testing.T) {
	orch, store, sup := newTestOrchestrator(t, slowSpeed)
	addCandidate(store, "candidate_1", "5.4.0")

	// One in-flight session, one terminal: only the former is recovered.
	inFlight := &session.UpgradeSession{
		ID:           "Upgrade_5.4.0",
		CandidateID:  "candidate_1",
		Status:       session.UpgradeInProgress,
		CreationTime: time.Now(),
		Messages:     []session.UpgradeMessage{},
		Tasks:        session.NewTaskLedger(time.Now()),
	}
	inFlight.Tasks[0].Status = session.TaskCompleted
	store.Put(inFlight)

	failed := &session.UpgradeSession{
		ID:           "Upgrade_5.3.0",
		Status:       session.UpgradeFailed,
		CreationTime: time.Now(),
		Tasks:        session.NewTaskLedger(time.Now()),
	}
	store.Put(failed)

	require.Equal(t, 1, orch.Recover())

	require.Eventually(t, func() bool {
		return sup.Alive("Upgrade_5.4.0")
	}, testTimeout, testTick)
	require.False(t, sup.Alive("Upgrade_5.3.0"))

	sup.Stop("Upgrade_5.4.0")
	sup.Wait()
}
