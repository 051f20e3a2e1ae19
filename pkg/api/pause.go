// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/unisim/upgradectl/pkg/session"
)

// PauseSession suspends an in-progress session. The status change, the
// current task's transition to PAUSED and the log message are applied as
// one atomic update. The runner observes the pause at its next poll point
// and freezes progress until resumed.
func (o *Orchestrator) PauseSession(id string) error {
	err := o.store.Apply(id, func(sess *session.UpgradeSession) error {
		if sess.Status != session.UpgradeInProgress {
			return fmt.Errorf("%w (current status: %s)", ErrNotInProgress, sess.Status)
		}
		sess.Status = session.UpgradePaused
		msg := "Paused upgrade"
		if idx := sess.CurrentTaskIndex(session.TaskInProgress); idx >= 0 {
			sess.Tasks[idx].Status = session.TaskPaused
			msg = fmt.Sprintf("Paused upgrade at task %d", idx+1)
		}
		sess.AppendMessage(msg, 0)
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err == nil {
		log.Info().Str("session", id).Msg("paused upgrade session")
	}
	return err
}
