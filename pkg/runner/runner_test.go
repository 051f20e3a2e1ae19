// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unisim/upgradectl/pkg/session"
)

const (
	testTimeout = 10 * time.Second
	testTick    = 10 * time.Millisecond
)

// testSession builds a session with a short synthetic ledger so tests finish
// in milliseconds instead of simulated minutes.
func testSession(id, candidateID string, estimates ...string) *session.UpgradeSession {
	now := time.Now()
	tasks := make([]session.UpgradeTask, 0, len(estimates))
	for i, est := range estimates {
		d, err := session.ParseTaskDuration(est)
		if err != nil {
			panic(err)
		}
		caption := "Task " + string(rune('A'+i))
		tasks = append(tasks, session.UpgradeTask{
			Status:        session.TaskPending,
			Type:          session.TaskTypeInstall,
			Caption:       caption,
			CreationTime:  now,
			EstRemainTime: d,
		})
	}
	return &session.UpgradeSession{
		ID:           id,
		CandidateID:  candidateID,
		Status:       session.UpgradeNotStarted,
		Messages:     []session.UpgradeMessage{},
		CreationTime: now,
		ElapsedTime:  "PT0S",
		Tasks:        tasks,
	}
}

func sessionStatus(store *session.Store, id string) session.UpgradeStatus {
	sess, ok := store.Get(id)
	if !ok {
		return session.UpgradeStatus(-1)
	}
	return sess.Status
}

func hasMessage(store *session.Store, id, text string, severity int) bool {
	sess, ok := store.Get(id)
	if !ok {
		return false
	}
	for _, m := range sess.Messages {
		if m.Message == text && m.Severity == severity {
			return true
		}
	}
	return false
}

func TestRunner_CompletesLedger(t *testing.T) {
	store := session.NewStore()
	store.ReplaceCandidate(&session.CandidateSoftwareVersion{ID: "candidate_1", Version: "5.4.0"})
	store.Put(testSession("Upgrade_5.4.0", "candidate_1", "00:00:00.100", "00:00:00.100"))

	sup := NewSupervisor(store, WithSpeedFactor(10), WithPollInterval(5*time.Millisecond))
	sup.Start("Upgrade_5.4.0")
	sup.Wait()

	sess, ok := store.Get("Upgrade_5.4.0")
	require.True(t, ok)
	require.Equal(t, session.UpgradeCompleted, sess.Status)
	require.Equal(t, 100, sess.PercentComplete)
	require.NotNil(t, sess.StartTime)
	require.NotNil(t, sess.EndTime)
	require.Regexp(t, `^PT\d+H\d+M\d+S$`, sess.ElapsedTime)

	for _, task := range sess.Tasks {
		require.Equal(t, session.TaskCompleted, task.Status)
		require.NotNil(t, task.EndTime)
	}

	require.True(t, hasMessage(store, sess.ID, "Starting task: Task A", 0))
	require.True(t, hasMessage(store, sess.ID, "Completed task: Task B", 0))

	// A successful upgrade consumes the candidate.
	_, ok = store.Candidate("candidate_1")
	require.False(t, ok)
}

func TestRunner_MissingCandidateIsFatal(t *testing.T) {
	store := session.NewStore()
	store.Put(testSession("Upgrade_5.4.0", "candidate_gone", "00:00:00.100"))

	sup := NewSupervisor(store, WithSpeedFactor(10), WithPollInterval(5*time.Millisecond))
	sup.Start("Upgrade_5.4.0")
	sup.Wait()

	require.Equal(t, session.UpgradeFailed, sessionStatus(store, "Upgrade_5.4.0"))
	require.True(t, hasMessage(store, "Upgrade_5.4.0", "Candidate software version not found", 2))
}

func TestRunner_PauseFreezesProgress(t *testing.T) {
	store := session.NewStore()
	store.ReplaceCandidate(&session.CandidateSoftwareVersion{ID: "candidate_1", Version: "5.4.0"})
	store.Put(testSession("Upgrade_5.4.0", "candidate_1", "00:00:02.000", "00:00:02.000"))

	sup := NewSupervisor(store, WithSpeedFactor(10), WithPollInterval(5*time.Millisecond))
	sup.Start("Upgrade_5.4.0")

	// Wait for some real progress.
	require.Eventually(t, func() bool {
		sess, ok := store.Get("Upgrade_5.4.0")
		return ok && sess.Status == session.UpgradeInProgress && sess.PercentComplete > 0
	}, testTimeout, testTick)

	require.NoError(t, store.Apply("Upgrade_5.4.0", func(s *session.UpgradeSession) error {
		s.Status = session.UpgradePaused
		if idx := s.CurrentTaskIndex(session.TaskInProgress); idx >= 0 {
			s.Tasks[idx].Status = session.TaskPaused
		}
		return nil
	}))

	// Give the runner time to observe the pause, then verify progress is
	// frozen for the whole pause window.
	time.Sleep(100 * time.Millisecond)
	paused, _ := store.Get("Upgrade_5.4.0")
	frozen := paused.PercentComplete

	time.Sleep(200 * time.Millisecond)
	still, _ := store.Get("Upgrade_5.4.0")
	require.Equal(t, session.UpgradePaused, still.Status)
	require.Equal(t, frozen, still.PercentComplete)

	require.NoError(t, store.Apply("Upgrade_5.4.0", func(s *session.UpgradeSession) error {
		s.Status = session.UpgradeInProgress
		if idx := s.CurrentTaskIndex(session.TaskPaused); idx >= 0 {
			s.Tasks[idx].Status = session.TaskInProgress
		}
		return nil
	}))

	sup.Wait()
	done, _ := store.Get("Upgrade_5.4.0")
	require.Equal(t, session.UpgradeCompleted, done.Status)
	require.Equal(t, 100, done.PercentComplete)
}

func TestRunner_NoProgressPublishedOncePauseLands(t *testing.T) {
	store := session.NewStore()
	store.ReplaceCandidate(&session.CandidateSoftwareVersion{ID: "candidate_1", Version: "5.4.0"})
	store.Put(testSession("Upgrade_5.4.0", "candidate_1", "00:00:02.000", "00:00:02.000"))

	sup := NewSupervisor(store, WithSpeedFactor(10), WithPollInterval(time.Millisecond))
	sup.Start("Upgrade_5.4.0")

	// Pause at several different points mid-task. The pause write and the
	// percentComplete read happen in the same store transaction, so any
	// higher value observed afterwards means the runner published progress
	// into an already-paused session.
	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool {
			return sessionStatus(store, "Upgrade_5.4.0") == session.UpgradeInProgress
		}, testTimeout, time.Millisecond)

		var atPause int
		require.NoError(t, store.Apply("Upgrade_5.4.0", func(s *session.UpgradeSession) error {
			s.Status = session.UpgradePaused
			atPause = s.PercentComplete
			return nil
		}))

		time.Sleep(50 * time.Millisecond)
		sess, ok := store.Get("Upgrade_5.4.0")
		require.True(t, ok)
		require.Equal(t, atPause, sess.PercentComplete)

		require.NoError(t, store.Apply("Upgrade_5.4.0", func(s *session.UpgradeSession) error {
			s.Status = session.UpgradeInProgress
			return nil
		}))
	}

	sup.Stop("Upgrade_5.4.0")
	sup.Wait()
}

func TestSupervisor_StopMarksSessionFailed(t *testing.T) {
	store := session.NewStore()
	store.ReplaceCandidate(&session.CandidateSoftwareVersion{ID: "candidate_1", Version: "5.4.0"})
	store.Put(testSession("Upgrade_5.4.0", "candidate_1", "00:01:00.000"))

	sup := NewSupervisor(store, WithSpeedFactor(2), WithPollInterval(5*time.Millisecond))
	sup.Start("Upgrade_5.4.0")

	require.Eventually(t, func() bool {
		return sessionStatus(store, "Upgrade_5.4.0") == session.UpgradeInProgress
	}, testTimeout, testTick)

	sup.Stop("Upgrade_5.4.0")
	sup.Wait()

	require.False(t, sup.Alive("Upgrade_5.4.0"))
	require.Equal(t, session.UpgradeFailed, sessionStatus(store, "Upgrade_5.4.0"))
	require.True(t, hasMessage(store, "Upgrade_5.4.0", "Upgrade simulation was cancelled", 1))
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	store := session.NewStore()
	store.ReplaceCandidate(&session.CandidateSoftwareVersion{ID: "candidate_1", Version: "5.4.0"})
	store.Put(testSession("Upgrade_5.4.0", "candidate_1", "00:01:00.000"))

	sup := NewSupervisor(store, WithSpeedFactor(2), WithPollInterval(5*time.Millisecond))
	sup.Start("Upgrade_5.4.0")
	sup.Start("Upgrade_5.4.0")
	require.True(t, sup.Alive("Upgrade_5.4.0"))

	sup.Stop("Upgrade_5.4.0")
	sup.Wait()
}

func TestRunner_SkipsCompletedTasksOnRestart(t *testing.T) {
	store := session.NewStore()
	store.ReplaceCandidate(&session.CandidateSoftwareVersion{ID: "candidate_1", Version: "5.4.0"})
	sess := testSession("Upgrade_5.4.0", "candidate_1", "00:00:00.100", "00:00:00.100", "00:00:00.100")
	// Simulate a restart after the first task finished mid-session.
	sess.Status = session.UpgradeInProgress
	sess.Tasks[0].Status = session.TaskCompleted
	sess.PercentComplete = 33
	store.Put(sess)

	sup := NewSupervisor(store, WithSpeedFactor(10), WithPollInterval(5*time.Millisecond))
	sup.Start("Upgrade_5.4.0")
	sup.Wait()

	done, _ := store.Get("Upgrade_5.4.0")
	require.Equal(t, session.UpgradeCompleted, done.Status)
	require.Equal(t, 100, done.PercentComplete)
	// The completed task was not re-run.
	require.False(t, hasMessage(store, "Upgrade_5.4.0", "Starting task: Task A", 0))
	require.True(t, hasMessage(store, "Upgrade_5.4.0", "Starting task: Task B", 0))
}
