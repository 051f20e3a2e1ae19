// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/unisim/upgradectl/pkg/session"
)

// CreateSession creates a new upgrade session for the given candidate and
// starts its runner. An empty candidateID selects the sole existing
// candidate. Only one non-terminal session may exist at a time; the
// active-session check, the candidate lookup and the insert happen under one
// store lock so concurrent creates cannot both succeed.
func (o *Orchestrator) CreateSession(candidateID string) (*session.UpgradeSession, error) {
	now := time.Now()
	sess, err := o.store.PutIfNoActive(candidateID, func(c *session.CandidateSoftwareVersion) *session.UpgradeSession {
		return &session.UpgradeSession{
			ID:              "Upgrade_" + c.Version,
			Type:            session.SessionTypeUpgrade,
			CandidateID:     c.ID,
			Caption:         "Upgrade to " + c.Version,
			Status:          session.UpgradeNotStarted,
			Messages:        []session.UpgradeMessage{},
			CreationTime:    now,
			ElapsedTime:     "PT0S",
			PercentComplete: 0,
			Tasks:           session.NewTaskLedger(now),
		}
	})
	if err != nil {
		if errors.Is(err, ErrActiveSessionExists) {
			return nil, fmt.Errorf("%w; wait for it to complete or fail", err)
		}
		return nil, err
	}
	log.Info().Str("session", sess.ID).Str("candidate", sess.CandidateID).Msg("created upgrade session")

	o.sup.Start(sess.ID)

	created, _ := o.store.Get(sess.ID)
	return created, nil
}
