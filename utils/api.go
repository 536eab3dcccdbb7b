// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides miscellaneous utilities shared by the scrubber packages.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var (
	extractFnNameRE  = regexp.MustCompile(`[^\/]*$`)
	extractPkgNameRE = regexp.MustCompile(`^[^.]*`)
	extractFuncRE    = regexp.MustCompile(`[^.]*$`)
)

// GetGID returns the goroutine ID of the caller.
//
// Only used to decorate log records; nothing may depend on its value.
//
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

// GetAFnName returns "package.function" for the caller level frames above us.
func GetAFnName(level int) string {
	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return "unknown.unknown"
	}
	functionObject := runtime.FuncForPC(pc)
	if nil == functionObject {
		return "unknown.unknown"
	}
	return extractFnNameRE.FindString(functionObject.Name())
}

// GetFuncPackage returns separate strings for the calling function and package
// along with the calling goroutine's ID.
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	pkg = extractPkgNameRE.FindString(funcPkg)
	fn = extractFuncRE.FindString(funcPkg)
	gid = GetGID()

	return
}

// JSONify returns input marshalled as JSON, optionally indented.
func JSONify(input interface{}, indentify bool) (output string) {
	var (
		err             error
		inputJSON       bytes.Buffer
		inputJSONPacked []byte
	)

	inputJSONPacked, err = json.Marshal(input)
	if nil == err {
		if indentify {
			err = json.Indent(&inputJSON, inputJSONPacked, "", "\t")
			if nil == err {
				output = inputJSON.String()
			} else {
				output = fmt.Sprintf("<<<json.Indent failed: %v>>>", err)
			}
		} else {
			output = string(inputJSONPacked)
		}
	} else {
		output = fmt.Sprintf("<<<json.Marshall failed: %v>>>", err)
	}

	return
}

// DurationToMsecs truncates d to whole milliseconds.
func DurationToMsecs(d time.Duration) (msecs uint64) {
	if d < 0 {
		msecs = 0
	} else {
		msecs = uint64(d / time.Millisecond)
	}
	return
}

// MsecsToDuration is the inverse of DurationToMsecs.
func MsecsToDuration(msecs uint64) (d time.Duration) {
	d = time.Duration(msecs) * time.Millisecond
	return
}
