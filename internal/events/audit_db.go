// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package events

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

func CreateAuditTable(dbFilePath string) error {
	db, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	_, err = db.Exec("CREATE TABLE IF NOT EXISTS audit_events(id INTEGER PRIMARY KEY, session_id TEXT NOT NULL, json_string TEXT NOT NULL);")
	if err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}

	return nil
}

func SaveAuditEvent(dbFilePath string, event *AuditEvent) error {
	db, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event to JSON: %w", err)
	}

	_, err = db.Exec("INSERT INTO audit_events (session_id, json_string) VALUES (?, ?);", event.SessionID, string(eventJSON))
	if err != nil {
		return fmt.Errorf("failed to insert event into audit_events: %w", err)
	}

	return nil
}

func PruneAuditEvents(dbFilePath string, maxId int) error {
	db, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	_, err = db.Exec("DELETE FROM audit_events WHERE id <= ?;", maxId)
	if err != nil {
		return fmt.Errorf("failed to delete events from audit_events: %w", err)
	}

	return nil
}

// GetAuditEvents returns the audit trail for one session, or for all sessions
// when sessionId is empty, along with the highest row id seen.
func GetAuditEvents(dbFilePath string, sessionId string) ([]AuditEvent, int, error) {
	db, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return nil, -1, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	var rows *sql.Rows
	if sessionId == "" {
		rows, err = db.Query("SELECT id, json_string FROM audit_events;")
	} else {
		rows, err = db.Query("SELECT id, json_string FROM audit_events WHERE session_id = ?;", sessionId)
	}
	if err != nil {
		return nil, -1, fmt.Errorf("failed to select audit events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close rows")
		}
	}()

	maxId := -1
	var eventsList []AuditEvent
	for rows.Next() {
		var eventData string
		var id int
		if err := rows.Scan(&id, &eventData); err != nil {
			return nil, -1, fmt.Errorf("failed to scan audit event data: %w", err)
		}

		var event AuditEvent
		if err := json.Unmarshal([]byte(eventData), &event); err != nil {
			return nil, -1, fmt.Errorf("failed to unmarshal audit event data: %w", err)
		}

		if maxId < id {
			maxId = id
		}
		eventsList = append(eventsList, event)
	}

	if err := rows.Err(); err != nil {
		return nil, -1, fmt.Errorf("error iterating over rows: %w", err)
	}

	return eventsList, maxId, nil
}
