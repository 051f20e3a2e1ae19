// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package session

import (
	"encoding/json"
	"fmt"
)

type (
	// UpgradeStatus is the session-level lifecycle status. The numeric values
	// are part of the persisted schema and of the REST representation; they
	// must never be renumbered.
	UpgradeStatus int
	// TaskStatus is the per-task lifecycle status.
	TaskStatus int
	// TaskType classifies a task within the upgrade plan.
	TaskType int
	// SessionType distinguishes full upgrades from single-package installs.
	SessionType int
)

const (
	UpgradeNotStarted UpgradeStatus = iota
	UpgradeInProgress
	UpgradeCompleted
	UpgradeFailed
	UpgradeFailedLock
	UpgradeCancelled
	UpgradePaused
	UpgradeAcknowledged
	UpgradeWaitingForUser
	UpgradePausedLock
)

const (
	TaskPending TaskStatus = iota
	TaskInProgress
	TaskCompleted
	TaskFailed
	TaskPaused
)

const (
	TaskTypePrepare TaskType = iota
	TaskTypeUpload
	TaskTypeInstall
	TaskTypeReboot
)

const (
	SessionTypeUpgrade SessionType = iota
	SessionTypeInstall
)

var upgradeStatusNames = map[UpgradeStatus]string{
	UpgradeNotStarted:     "NOT_STARTED",
	UpgradeInProgress:     "IN_PROGRESS",
	UpgradeCompleted:      "COMPLETED",
	UpgradeFailed:         "FAILED",
	UpgradeFailedLock:     "FAILED_LOCK",
	UpgradeCancelled:      "CANCELLED",
	UpgradePaused:         "PAUSED",
	UpgradeAcknowledged:   "ACKNOWLEDGED",
	UpgradeWaitingForUser: "WAITING_FOR_USER",
	UpgradePausedLock:     "PAUSED_LOCK",
}

var taskStatusNames = map[TaskStatus]string{
	TaskPending:    "PENDING",
	TaskInProgress: "IN_PROGRESS",
	TaskCompleted:  "COMPLETED",
	TaskFailed:     "FAILED",
	TaskPaused:     "PAUSED",
}

var taskTypeNames = map[TaskType]string{
	TaskTypePrepare: "PREPARE",
	TaskTypeUpload:  "UPLOAD",
	TaskTypeInstall: "INSTALL",
	TaskTypeReboot:  "REBOOT",
}

func (s UpgradeStatus) String() string {
	if name, ok := upgradeStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UpgradeStatus(%d)", int(s))
}

// Terminal reports whether the session can no longer make progress.
// Exactly one session may be non-terminal at a time; the facade enforces
// this at creation.
func (s UpgradeStatus) Terminal() bool {
	return s == UpgradeCompleted || s == UpgradeFailed || s == UpgradeCancelled
}

func (s TaskStatus) String() string {
	if name, ok := taskStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TaskStatus(%d)", int(s))
}

func (t TaskType) String() string {
	if name, ok := taskTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TaskType(%d)", int(t))
}

// DecodeUpgradeStatus validates a persisted scalar against the known
// vocabulary. Unknown values are a load-time error, never a silent guess.
func DecodeUpgradeStatus(v int) (UpgradeStatus, error) {
	s := UpgradeStatus(v)
	if _, ok := upgradeStatusNames[s]; !ok {
		return 0, fmt.Errorf("unknown upgrade status value %d", v)
	}
	return s, nil
}

func DecodeTaskStatus(v int) (TaskStatus, error) {
	s := TaskStatus(v)
	if _, ok := taskStatusNames[s]; !ok {
		return 0, fmt.Errorf("unknown task status value %d", v)
	}
	return s, nil
}

func DecodeTaskType(v int) (TaskType, error) {
	t := TaskType(v)
	if _, ok := taskTypeNames[t]; !ok {
		return 0, fmt.Errorf("unknown task type value %d", v)
	}
	return t, nil
}

func (s *UpgradeStatus) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	decoded, err := DecodeUpgradeStatus(v)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	decoded, err := DecodeTaskStatus(v)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

func (t *TaskType) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	decoded, err := DecodeTaskType(v)
	if err != nil {
		return err
	}
	*t = decoded
	return nil
}
