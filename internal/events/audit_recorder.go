// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/unisim/upgradectl/pkg/session"
)

// AuditEvent is one row of the persistent audit trail: a message emitted by
// an upgrade session, stamped with when the controller recorded it.
type AuditEvent struct {
	Id         string `json:"id"`
	SessionID  string `json:"sessionId"`
	DeviceTime string `json:"deviceTime"`
	Message    string `json:"message"`
	Severity   int    `json:"severity"`
}

func NewAuditEvent(sessionId string, msg session.UpgradeMessage) *AuditEvent {
	return &AuditEvent{
		Id:         uuid.New().String(),
		SessionID:  sessionId,
		DeviceTime: time.Now().Format(time.RFC3339),
		Message:    msg.Message,
		Severity:   msg.Severity,
	}
}

// AuditRecorder forwards session messages to the sqlite audit trail. Writes
// are best-effort: a failed insert is logged and dropped, it never blocks or
// fails the upgrade that produced the message.
type AuditRecorder struct {
	dbFilePath string
}

func NewAuditRecorder(dbFilePath string) *AuditRecorder {
	return &AuditRecorder{dbFilePath: dbFilePath}
}

func (r *AuditRecorder) Record(sessionId string, msg session.UpgradeMessage) {
	if err := SaveAuditEvent(r.dbFilePath, NewAuditEvent(sessionId, msg)); err != nil {
		log.Err(err).Str("session", sessionId).Msg("failed to record audit event")
	}
}
