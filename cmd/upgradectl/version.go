// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Commit is stamped at build time via -ldflags.
var Commit string

func init() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the upgradectl build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Commit)
		},
		Args: cobra.NoArgs,
	}
	rootCmd.AddCommand(cmd)
}
