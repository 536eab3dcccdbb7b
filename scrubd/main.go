// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program scrubd provides a command-line wrapper around package scrubdpkg APIs.
//
// The run subcommand requires a single argument that is a path to a package
// config formatted configuration to load. Optionally, overrides to the config
// may be passed as additional arguments in the form <section_name>.<option_name>=<value>.
//
// The status subcommand fetches the /stats page of a running scrubd.
//
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "scrubd",
	Short:         "Checksum scrubbing daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	err := rootCmd.Execute()
	if nil != err {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
