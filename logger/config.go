// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/csumscrub/conf"
)

// Log fields supported by logger
const (
	packageKey  = "package"
	functionKey = "function"
	errorKey    = "error"
	gidKey      = "goroutine"
)

var (
	logFile           *os.File
	traceLevelEnabled bool
	logTargets        multiWriter
)

// packageTraceSettings controls whether tracing is enabled for particular
// packages. A package must be listed here for Logging.TraceLevelLogging to
// enable it.
var packageTraceSettings = map[string]bool{
	"incast":     false,
	"logger":     false,
	"membership": false,
	"memscan":    false,
	"sched":      false,
	"scrub":      false,
	"scrubdpkg":  false,
	"telemetry":  false,
}

var traceSettingsLock sync.RWMutex

type multiWriter struct {
	sync.Mutex
	writers []io.Writer
}

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.Lock()
	mw.writers = append(mw.writers, writer)
	mw.Unlock()
}

func (mw *multiWriter) clear() {
	mw.Lock()
	mw.writers = nil
	mw.Unlock()
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	mw.Lock()
	defer mw.Unlock()

	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		if nil != err {
			return
		}
	}

	n = len(p)
	err = nil
	return
}

func up(confMap conf.ConfMap) (err error) {
	var (
		logFilePath    string
		logToConsole   bool
		traceConfSlice []string
	)

	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	logTargets.clear()

	logFilePath, err = confMap.FetchOptionValueString("Logging", "LogFilePath")
	if nil != err {
		logFilePath = ""
	}

	logToConsole, err = confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if nil != err {
		logToConsole = ("" == logFilePath)
	}

	if "" != logFilePath {
		logFile, err = os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if nil != err {
			log.Errorf("couldn't open log file %s: %v", logFilePath, err)
			return
		}
		logTargets.addWriter(logFile)
	}
	if logToConsole {
		logTargets.addWriter(os.Stderr)
	}

	log.SetOutput(&logTargets)

	// We always enable max logging in logrus and decide here whether to log
	log.SetLevel(log.DebugLevel)

	traceConfSlice, err = confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	if nil != err {
		traceConfSlice = []string{}
	}
	setTraceLoggingLevel(traceConfSlice)

	err = nil
	return
}

func down() (err error) {
	logTargets.clear()
	log.SetOutput(os.Stderr)

	if nil != logFile {
		err = logFile.Close()
		logFile = nil
	}

	return
}

func addLogTarget(writer io.Writer) {
	logTargets.addWriter(writer)
}

func setTraceLoggingLevel(confStrSlice []string) {
	traceSettingsLock.Lock()

	for pkg := range packageTraceSettings {
		packageTraceSettings[pkg] = false
	}
	traceLevelEnabled = false

HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			traceLevelEnabled = false
			break HandlePkgs
		default:
			if _, ok := packageTraceSettings[pkg]; ok {
				packageTraceSettings[pkg] = true
				traceLevelEnabled = true
			}
		}
	}

	traceSettingsLock.Unlock()

	if traceLevelEnabled {
		for pkg, isEnabled := range packageTraceSettings {
			if isEnabled {
				Infof("Package %v trace logging is enabled.", pkg)
			}
		}
	}
}

func traceEnabled(pkg string) bool {
	traceSettingsLock.RLock()
	defer traceSettingsLock.RUnlock()

	return packageTraceSettings[pkg]
}
