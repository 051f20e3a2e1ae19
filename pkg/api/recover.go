// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/unisim/upgradectl/pkg/session"
)

// Recover re-launches runners for every persisted in-flight session so
// upgrades interrupted by a restart resume instead of being silently
// abandoned. Runners start after a short settling delay. Best-effort: the
// sweep never fails, it only logs. Returns the number of sessions scheduled.
func (o *Orchestrator) Recover() int {
	scheduled := 0
	for _, sess := range o.store.List() {
		inFlight := sess.Status == session.UpgradeInProgress ||
			sess.CurrentTaskIndex(session.TaskInProgress) >= 0
		if !inFlight {
			continue
		}
		scheduled++
		id := sess.ID
		log.Info().Str("session", id).Stringer("status", sess.Status).Msg("scheduling recovery of in-flight upgrade session")
		time.AfterFunc(o.settleDelay, func() {
			o.sup.Start(id)
		})
	}
	if scheduled == 0 {
		log.Debug().Msg("no in-flight upgrade sessions to recover")
	}
	return scheduled
}
