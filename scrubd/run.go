// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/csumscrub/conf"
	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/scrubd/scrubdpkg"
)

var runCmd = &cobra.Command{
	Use:   "run <conf-file> [<section_name>.<option_name>=<value>...]",
	Short: "Start scrubbing the local targets and serve until SIGINT or SIGTERM",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRunE,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRunE(cmd *cobra.Command, args []string) (err error) {
	var (
		confMap        conf.ConfMap
		signalChan     chan os.Signal
		signalReceived os.Signal
	)

	confMap, err = conf.MakeConfMapFromFile(args[0])
	if nil != err {
		err = fmt.Errorf("failed to load config: %v", err)
		return
	}

	err = confMap.UpdateFromStrings(args[1:])
	if nil != err {
		err = fmt.Errorf("failed to apply config overrides: %v", err)
		return
	}

	err = scrubdpkg.Start(confMap)
	if nil != err {
		err = fmt.Errorf("scrubdpkg.Start(confMap) failed: %v", err)
		return
	}

	// Arm signal handler used to indicate interruption/termination & wait on it
	//
	// Note: signal'd chan must be buffered to avoid race with window between
	// arming handler and blocking on the chan read

	signalChan = make(chan os.Signal, 1)

	signal.Notify(signalChan, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)

	for {
		signalReceived = <-signalChan
		if unix.SIGHUP != signalReceived {
			break
		}
		err = scrubdpkg.Signal()
		if nil != err {
			logger.WarnfWithError(err, "scrubdpkg.Signal() failed")
		}
	}

	logger.Infof("received %v; stopping", signalReceived)

	err = scrubdpkg.Stop()
	if nil != err {
		err = fmt.Errorf("scrubdpkg.Stop() failed: %v", err)
	}

	return
}
