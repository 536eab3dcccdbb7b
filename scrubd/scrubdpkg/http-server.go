// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrubdpkg

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/csumscrub/incast"
	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/sched"
	"github.com/NVIDIA/csumscrub/telemetry"
)

type targetStatusStruct struct {
	Target  uint32   `json:"target" yaml:"target"`
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Active  bool     `json:"active" yaml:"active"`
	Info    []string `json:"info,omitempty" yaml:"info,omitempty"`
	Error   []string `json:"error,omitempty" yaml:"error,omitempty"`
}

type statsStruct struct {
	Scrub    telemetry.RegistrySnapshot    `json:"scrub" yaml:"scrub"`
	Sched    map[string]sched.RequestStats `json:"sched" yaml:"sched"`
	Receiver *incast.ReceiverStats         `json:"receiver,omitempty" yaml:"receiver,omitempty"`
	Targets  []targetStatusStruct          `json:"targets" yaml:"targets"`
}

func startHTTPServer() (err error) {
	var (
		ipAddrTCPPort string
		listener      net.Listener
	)

	ipAddrTCPPort = net.JoinHostPort(globals.config.HTTPServerIPAddr, strconv.Itoa(int(globals.config.HTTPServerTCPPort)))

	listener, err = net.Listen("tcp", ipAddrTCPPort)
	if nil != err {
		return
	}

	globals.httpServer = &http.Server{
		Addr:    ipAddrTCPPort,
		Handler: &globals,
	}

	globals.httpServerWG.Add(1)

	go func() {
		var (
			err error
		)

		err = globals.httpServer.Serve(listener)
		if http.ErrServerClosed != err {
			logger.FatalfWithError(err, "httpServer.Serve() exited unexpectedly")
		}

		globals.httpServerWG.Done()
	}()

	err = nil
	return
}

func stopHTTPServer() (err error) {
	err = globals.httpServer.Shutdown(context.TODO())
	if nil == err {
		globals.httpServerWG.Wait()
	}

	return
}

func (dummy *globalsStruct) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	switch request.Method {
	case http.MethodGet:
		serveHTTPGet(responseWriter, request)
	default:
		responseWriter.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func serveHTTPGet(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		path string
	)

	path = strings.TrimRight(request.URL.Path, "/")

	switch path {
	case "/config":
		serveHTTPGetOfConfig(responseWriter, request)
	case "/metrics":
		promhttp.HandlerFor(globals.promRegistry, promhttp.HandlerOpts{}).ServeHTTP(responseWriter, request)
	case "/stats":
		serveHTTPGetOfStats(responseWriter, request)
	default:
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

func serveHTTPGetOfConfig(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		body        []byte
		contentType string
		err         error
	)

	if "yaml" == request.URL.Query().Get("format") {
		body, err = globals.confMap.DumpYAML()
		contentType = "application/yaml"
	} else {
		body, err = json.Marshal(globals.config)
		contentType = "application/json"
	}
	if nil != err {
		logger.ErrorfWithError(err, "unable to render config")
		responseWriter.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeResponse(responseWriter, contentType, body)
}

func fetchStats() (stats *statsStruct) {
	var (
		receiverStats incast.ReceiverStats
	)

	stats = &statsStruct{
		Scrub: globals.registry.Snapshot(),
		Sched: globals.scheduler.Stats(),
	}

	if nil != globals.receiver {
		receiverStats = globals.receiver.Stats()
		stats.Receiver = &receiverStats
	}

	globals.Lock()
	stats.Targets = make([]targetStatusStruct, 0, len(globals.targets))
	for _, tgt := range globals.targets {
		targetStatus := targetStatusStruct{Target: tgt.target}
		if nil != tgt.handle {
			targetStatus.Enabled = true
			targetStatus.Active = tgt.handle.Active()
			targetStatus.Info = tgt.handle.Info()
			targetStatus.Error = tgt.handle.Error()
		}
		stats.Targets = append(stats.Targets, targetStatus)
	}
	globals.Unlock()

	return
}

func serveHTTPGetOfStats(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		body        []byte
		contentType string
		err         error
	)

	switch request.URL.Query().Get("format") {
	case "text":
		body = []byte(globals.registry.SprintStats())
		contentType = "text/plain"
	case "yaml":
		body, err = yaml.Marshal(fetchStats())
		contentType = "application/yaml"
	case "", "json":
		body, err = json.Marshal(fetchStats())
		contentType = "application/json"
	default:
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}
	if nil != err {
		logger.ErrorfWithError(err, "unable to render stats")
		responseWriter.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeResponse(responseWriter, contentType, body)
}

func writeResponse(responseWriter http.ResponseWriter, contentType string, body []byte) {
	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	responseWriter.Header().Set("Content-Type", contentType)
	responseWriter.WriteHeader(http.StatusOK)

	_, err := responseWriter.Write(body)
	if nil != err {
		logger.WarnfWithError(err, "responseWriter.Write() failed")
	}
}
