// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"
)

// DieNotNil prints the error prefixed by the optional message parts and
// exits with code 1. A nil error is a no-op.
func DieNotNil(err error, message ...string) {
	DieNotNilWithCode(err, 1, message...)
}

// DieNotNilWithCode is DieNotNil with a caller-chosen exit code.
func DieNotNilWithCode(err error, exitCode int, message ...string) {
	if err != nil {
		parts := []interface{}{"ERROR:"}
		for _, p := range message {
			parts = append(parts, p)
		}
		parts = append(parts, err)
		fmt.Println(parts...)
		os.Exit(exitCode)
	}
}
