// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/unisim/upgradectl/pkg/session"
)

// ResumeSession takes a paused session back to in-progress and makes sure a
// runner is driving it. If the original runner is still parked in its pause
// poll loop the supervisor start is a no-op; after a process restart it
// launches a fresh runner which skips the already-completed tasks.
func (o *Orchestrator) ResumeSession(id string) error {
	err := o.store.Apply(id, func(sess *session.UpgradeSession) error {
		if sess.Status != session.UpgradePaused && sess.Status != session.UpgradePausedLock {
			return fmt.Errorf("%w (current status: %s)", ErrNotPaused, sess.Status)
		}
		sess.Status = session.UpgradeInProgress
		msg := "Resumed upgrade"
		if idx := sess.CurrentTaskIndex(session.TaskPaused); idx >= 0 {
			sess.Tasks[idx].Status = session.TaskInProgress
			msg = fmt.Sprintf("Resumed upgrade at task %d", idx+1)
		}
		sess.AppendMessage(msg, 0)
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return err
	}

	log.Info().Str("session", id).Msg("resumed upgrade session")
	o.sup.Start(id)
	return nil
}
