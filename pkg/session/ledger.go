// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package session

import "time"

// RebootPrimaryCaption marks the task whose execution makes the controller
// simulate dropped client connections.
const RebootPrimaryCaption = "Rebooting the primary SP"

type ledgerEntry struct {
	caption  string
	taskType TaskType
	estimate string
}

// The canonical upgrade plan: prepare, health checks and install/reboot
// cycles on the peer SP first, then on the primary SP.
var ledgerEntries = []ledgerEntry{
	{"Preparing system", TaskTypePrepare, "00:03:30.000"},
	{"Performing health checks", TaskTypePrepare, "00:02:10.000"},
	{"Preparing system software", TaskTypePrepare, "00:16:10.000"},
	{"Waiting for reboot command", TaskTypePrepare, "00:00:05.000"},
	{"Performing health checks", TaskTypePrepare, "00:01:05.000"},
	{"Installing new software on peer SP", TaskTypeInstall, "00:16:50.000"},
	{"Rebooting peer SP", TaskTypeReboot, "00:14:15.000"},
	{"Restarting services on peer SP", TaskTypeInstall, "00:05:00.000"},
	{"Installing new software on primary SP", TaskTypeInstall, "00:13:30.000"},
	{RebootPrimaryCaption, TaskTypeReboot, "00:13:55.000"},
	{"Restarting services on primary SP", TaskTypeInstall, "00:05:10.000"},
	{"Final tasks", TaskTypeInstall, "00:00:45.000"},
}

// NewTaskLedger returns the fixed ordered task list for a new upgrade
// session. The returned slice is the immutable execution plan: the runner
// walks it strictly in order and never reorders it.
func NewTaskLedger(now time.Time) []UpgradeTask {
	tasks := make([]UpgradeTask, 0, len(ledgerEntries))
	for _, e := range ledgerEntries {
		est, err := ParseTaskDuration(e.estimate)
		if err != nil {
			// The entries above are compile-time constants; a parse failure
			// here is a programming error.
			panic(err)
		}
		tasks = append(tasks, UpgradeTask{
			Status:        TaskPending,
			Type:          e.taskType,
			Caption:       e.caption,
			CreationTime:  now,
			EstRemainTime: est,
		})
	}
	return tasks
}
