// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a third-party
// logging package.
//
// This package is currently implemented on top of the sirupsen/logrus package:
//   https://github.com/sirupsen/logrus
//
// The APIs here add package, calling function, and goroutine to all logs.
//
// Logging of trace logs is enabled/disabled on a per package basis via the
// Logging.TraceLevelLogging option.
package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/csumscrub/conf"
	"github.com/NVIDIA/csumscrub/utils"
)

type Level int

// Our logging levels map onto logrus levels except for TraceLevel which
// is gated per package and emitted at logrus.InfoLevel when enabled.
const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	TraceLevel
)

// Up configures logging from the Logging section of confMap.
//
//   [Logging]
//   LogFilePath:       /var/log/scrubd.log  # optional
//   LogToConsole:      true                 # defaults to false if LogFilePath set
//   TraceLevelLogging: scrub sched          # or "none"
//
func Up(confMap conf.ConfMap) (err error) {
	err = up(confMap)
	return
}

// SignaledStart re-opens the log file (e.g. after logrotate has moved it).
func SignaledStart(confMap conf.ConfMap) (err error) {
	err = down()
	if nil != err {
		return
	}
	err = up(confMap)
	return
}

func Down() (err error) {
	err = down()
	return
}

// AddLogTarget adds another target for log messages to be written to. writer
// is called once for each log message.
//
// Up() must be called before this function is used.
//
func AddLogTarget(writer io.Writer) {
	addLogTarget(writer)
}

// LogTarget captures the most recent n lines of log into an array.
// Useful for writing test cases.
//
type LogTarget struct {
	sync.Mutex
	LogBuf *LogBuffer
}

type LogBuffer struct {
	LogEntries   []string // most recent log entry is [0]
	TotalEntries int      // count of all entries seen
}

// Init prepares a LogTarget to hold up to nEntry log entries.
func (target *LogTarget) Init(nEntry int) {
	target.LogBuf = &LogBuffer{
		LogEntries:   make([]string, nEntry),
		TotalEntries: 0,
	}
}

// Write is called by logger for each log entry.
func (target *LogTarget) Write(p []byte) (n int, err error) {
	target.Lock()
	defer target.Unlock()

	if len(target.LogBuf.LogEntries) > 0 {
		copy(target.LogBuf.LogEntries[1:], target.LogBuf.LogEntries[:len(target.LogBuf.LogEntries)-1])
		target.LogBuf.LogEntries[0] = strings.TrimRight(string(p), " \t\n")
	}
	target.LogBuf.TotalEntries++

	n = len(p)
	err = nil
	return
}

// Contains reports whether any retained entry contains substr.
func (target *LogTarget) Contains(substr string) (found bool) {
	target.Lock()
	defer target.Unlock()

	for _, entry := range target.LogBuf.LogEntries {
		if strings.Contains(entry, substr) {
			found = true
			return
		}
	}

	found = false
	return
}

// EXTERNAL logging APIs
//
// These APIs are in the style of those provided by the logrus package.

func Errorf(format string, args ...interface{}) {
	logf(ErrorLevel, nil, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, nil, format, args...)
}

func Infof(format string, args ...interface{}) {
	logf(InfoLevel, nil, format, args...)
}

func Tracef(format string, args ...interface{}) {
	logf(TraceLevel, nil, format, args...)
}

func Warnf(format string, args ...interface{}) {
	logf(WarnLevel, nil, format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	logf(ErrorLevel, err, format, args...)
}

func FatalfWithError(err error, format string, args ...interface{}) {
	logf(FatalLevel, err, format, args...)
}

func InfofWithError(err error, format string, args ...interface{}) {
	logf(InfoLevel, err, format, args...)
}

func PanicfWithError(err error, format string, args ...interface{}) {
	logf(PanicLevel, err, format, args...)
}

func TracefWithError(err error, format string, args ...interface{}) {
	logf(TraceLevel, err, format, args...)
}

func WarnfWithError(err error, format string, args ...interface{}) {
	logf(WarnLevel, err, format, args...)
}

// TraceEnabled lets callers skip building expensive trace arguments.
func TraceEnabled(pkg string) bool {
	return traceEnabled(pkg)
}

func (level Level) String() string {
	switch level {
	case PanicLevel:
		return "panic"
	case FatalLevel:
		return "fatal"
	case ErrorLevel:
		return "error"
	case WarnLevel:
		return "warn"
	case InfoLevel:
		return "info"
	case TraceLevel:
		return "trace"
	default:
		return fmt.Sprintf("Level(%d)", int(level))
	}
}

// backtraceLevel skips logf and the exported wrapper.
const backtraceLevel = 2

func logf(level Level, err error, format string, args ...interface{}) {
	var (
		entry *log.Entry
		fn    string
		gid   uint64
		pkg   string
	)

	if (TraceLevel == level) && !traceLevelEnabled {
		return
	}

	fn, pkg, gid = utils.GetFuncPackage(backtraceLevel)

	if (TraceLevel == level) && !traceEnabled(pkg) {
		return
	}

	entry = log.WithFields(log.Fields{
		functionKey: fn,
		packageKey:  pkg,
		gidKey:      gid,
	})
	if nil != err {
		entry = entry.WithField(errorKey, err)
	}

	switch level {
	case PanicLevel:
		entry.Panicf(format, args...)
	case FatalLevel:
		entry.Fatalf(format, args...)
	case ErrorLevel:
		entry.Errorf(format, args...)
	case WarnLevel:
		entry.Warnf(format, args...)
	default:
		entry.Infof(format, args...)
	}
}
