// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"fmt"

	"github.com/unisim/upgradectl/pkg/session"
)

// GetSession returns a copy of the session record.
func (o *Orchestrator) GetSession(id string) (*session.UpgradeSession, error) {
	sess, ok := o.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// ListSessions returns copies of all sessions ordered by creation time.
func (o *Orchestrator) ListSessions() []*session.UpgradeSession {
	return o.store.List()
}
