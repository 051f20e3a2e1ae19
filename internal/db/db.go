// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package db

import (
	"fmt"

	"github.com/unisim/upgradectl/internal/events"
)

func InitializeDatabase(dbFilePath string) error {
	err := events.CreateAuditTable(dbFilePath)
	if err != nil {
		return fmt.Errorf("failed to create audit_events table %w", err)
	}

	return nil
}
