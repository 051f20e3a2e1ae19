// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package runner

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/unisim/upgradectl/pkg/session"
)

// progressIncrements is the number of equal slices each task is executed
// in. Progress accounting, pause checks and stop checks all happen at this
// granularity.
const progressIncrements = 10

// Runner drives one session's task ledger to completion. It is the only
// component that suspends: the sub-increment sleeps and the pause poll
// loop. Both are cooperative; stop and pause are observed at the next poll
// point, never instantaneously.
type Runner struct {
	store        *session.Store
	sup          *Supervisor
	id           string
	speedFactor  float64
	pollInterval time.Duration
}

func (r *Runner) run() error {
	sess, ok := r.store.Get(r.id)
	if !ok {
		log.Error().Str("session", r.id).Msg("session not found, runner exiting")
		return nil
	}

	// Candidate-not-found is fatal and not retried.
	if _, ok := r.store.Candidate(sess.CandidateID); !ok {
		r.store.Update(r.id, func(s *session.UpgradeSession) {
			s.Status = session.UpgradeFailed
		})
		r.store.AppendMessage(r.id, "Candidate software version not found", 2)
		return errors.Errorf("candidate %q not found for session %s", sess.CandidateID, r.id)
	}

	// A session may be created or recovered in a paused state; wait it out
	// before claiming progress.
	if stop := r.waitWhilePaused(); stop {
		return nil
	}

	now := time.Now()
	r.store.Update(r.id, func(s *session.UpgradeSession) {
		s.Status = session.UpgradeInProgress
		if s.StartTime == nil {
			s.StartTime = &now
		}
	})
	log.Info().Str("session", r.id).Msg("upgrade session is now in progress")

	total := len(sess.Tasks)
	for i := 0; i < total; i++ {
		cur, ok := r.store.Get(r.id)
		if !ok {
			log.Info().Str("session", r.id).Msg("session disappeared, runner exiting")
			return nil
		}
		if cur.Status == session.UpgradeFailed || cur.Status == session.UpgradeCancelled {
			log.Info().Str("session", r.id).Stringer("status", cur.Status).Msg("session terminated externally, runner exiting")
			return nil
		}

		task := cur.Tasks[i]
		if task.Status == session.TaskCompleted {
			continue
		}

		started := time.Now()
		r.store.Update(r.id, func(s *session.UpgradeSession) {
			s.Tasks[i].Status = session.TaskInProgress
			if s.Tasks[i].StartTime == nil {
				s.Tasks[i].StartTime = &started
			}
		})
		r.store.AppendMessage(r.id, "Starting task: "+task.Caption, 0)
		log.Info().Str("session", r.id).Int("task", i+1).Int("of", total).Str("caption", task.Caption).Msg("starting task")

		if stop := r.executeTask(i, total, task); stop {
			return nil
		}

		ended := time.Now()
		r.store.Update(r.id, func(s *session.UpgradeSession) {
			s.Tasks[i].Status = session.TaskCompleted
			s.Tasks[i].EndTime = &ended
			s.PercentComplete = (i + 1) * 100 / total
		})
		r.store.AppendMessage(r.id, "Completed task: "+task.Caption, 0)
		log.Info().Str("session", r.id).Int("task", i+1).Int("of", total).Str("caption", task.Caption).Msg("completed task")
	}

	end := time.Now()
	var candidateID string
	r.store.Update(r.id, func(s *session.UpgradeSession) {
		s.Status = session.UpgradeCompleted
		s.PercentComplete = 100
		s.EndTime = &end
		if s.StartTime != nil {
			s.ElapsedTime = session.FormatElapsed(end.Sub(*s.StartTime))
		}
		candidateID = s.CandidateID
	})
	// The candidate is consumed by a successful upgrade.
	r.store.RemoveCandidate(candidateID)
	log.Info().Str("session", r.id).Str("candidate", candidateID).Msg("upgrade session completed")
	return nil
}

// executeTask runs one task in sub-increments, updating the session's
// percentComplete after each. It returns true when the runner should exit
// without completing the task (stop requested or session gone). Increments
// do not accumulate while the session is paused, so progress observed by
// readers is frozen for the whole pause.
func (r *Runner) executeTask(index, total int, task session.UpgradeTask) (stopped bool) {
	duration := time.Duration(float64(task.EstRemainTime.Duration()) / r.speedFactor)
	step := duration / progressIncrements
	log.Debug().Str("session", r.id).Str("caption", task.Caption).Dur("duration", duration).Msg("task duration after speed scaling")

	done := 0
	for done < progressIncrements {
		if !r.sup.Alive(r.id) {
			log.Info().Str("session", r.id).Msg("runner no longer wanted, abandoning task")
			return true
		}
		if stop := r.waitWhilePaused(); stop {
			return true
		}

		time.Sleep(step)

		// The pause check and the percent bump share one lock acquisition:
		// once a pause is written to the store, no further progress can be
		// published, and the interrupted slice doesn't count.
		frac := float64(done+1) / progressIncrements
		percent := int(100 * (float64(index) + frac) / float64(total))
		counted := false
		ok := r.store.Update(r.id, func(s *session.UpgradeSession) {
			if s.Status == session.UpgradePaused || s.Status == session.UpgradePausedLock {
				return
			}
			counted = true
			if percent > s.PercentComplete {
				s.PercentComplete = percent
			}
		})
		if !ok {
			return true
		}
		if counted {
			done++
		}
	}
	return false
}

// waitWhilePaused blocks at the poll interval until the session leaves the
// paused state. It returns true when the runner should exit instead:
// the session vanished (silent termination) or the supervisor withdrew it.
func (r *Runner) waitWhilePaused() (stopped bool) {
	logged := false
	for {
		cur, ok := r.store.Get(r.id)
		if !ok {
			return true
		}
		if cur.Status != session.UpgradePaused && cur.Status != session.UpgradePausedLock {
			if logged {
				log.Info().Str("session", r.id).Msg("session resumed")
			}
			return false
		}
		if !r.sup.Alive(r.id) {
			return true
		}
		if !logged {
			log.Info().Str("session", r.id).Msg("session paused, waiting for resume")
			logged = true
		}
		time.Sleep(r.pollInterval)
	}
}
