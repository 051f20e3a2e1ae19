// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unisim/upgradectl/pkg/persist"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted upgrade sessions and candidate software versions",
		Run: func(cmd *cobra.Command, args []string) {
			doStatus()
		},
		Args: cobra.NoArgs,
	}
	rootCmd.AddCommand(cmd)
}

func doStatus() {
	persister := persist.New(config.GetStorageDir())

	sessions, err := persister.LoadSessions()
	DieNotNil(err, "Failed to load persisted sessions")
	candidates, err := persister.LoadCandidates()
	DieNotNil(err, "Failed to load persisted candidates")

	if len(sessions) == 0 {
		fmt.Println("No upgrade sessions found")
	} else {
		ids := make([]string, 0, len(sessions))
		for id := range sessions {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tSTATUS\tPROGRESS\tELAPSED")
		for _, id := range ids {
			sess := sessions[id]
			fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\n", sess.ID, sess.Status, sess.PercentComplete, sess.ElapsedTime)
		}
		DieNotNil(w.Flush(), "Failed to print sessions")
	}

	for _, c := range candidates {
		fmt.Printf("Candidate: %s (%s)\n", c.ID, c.Version)
	}
}
