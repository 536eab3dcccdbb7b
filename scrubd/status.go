// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusFormat  string
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <http-server-url>",
	Short: "Print the scrubbing stats of a running scrubd",
	Args:  cobra.ExactArgs(1),
	RunE:  statusRunE,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "text", "One of text, json, or yaml")
	statusCmd.Flags().DurationVarP(&statusTimeout, "timeout", "t", 10*time.Second, "How long to wait for scrubd to respond")
}

func statusRunE(cmd *cobra.Command, args []string) (err error) {
	var (
		httpClient   = &http.Client{Timeout: statusTimeout}
		httpResponse *http.Response
	)

	httpResponse, err = httpClient.Get(strings.TrimRight(args[0], "/") + "/stats?format=" + statusFormat)
	if nil != err {
		return
	}
	defer httpResponse.Body.Close()

	if http.StatusOK != httpResponse.StatusCode {
		err = fmt.Errorf("GET /stats returned %s", httpResponse.Status)
		return
	}

	_, err = io.Copy(os.Stdout, httpResponse.Body)

	return
}
