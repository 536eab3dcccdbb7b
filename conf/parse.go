// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// RegEx components used below:

const assignment = "([ \t]*[=:][ \t]*)"
const dot = "(\\.)"
const separator = "([ \t]+|([ \t]*,[ \t]*))"
const token = "([0-9A-Za-z_\\*\\-/:\\.\\[\\]]+)"
const whiteSpace = "([ \t]+)"

// A string to load looks like:
//
//   <section_name>.<option_name> =
//   <section_name>.<option_name> : <value_1>
//   <section_name>.<option_name> = <value_1>, <value_2> <value_3>

var stringRE = regexp.MustCompile("\\A" + token + dot + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
var sectionNameOptionNameSeparatorRE = regexp.MustCompile(dot)

// A .INI/.conf file to load looks like:
//
//   [Scrubber]
//   Schedule:       timed        # comment
//   EvictThreshold = 10          ; comment
//
//   .include ./common.conf
//
// Sections are of the form "[<token>]".

var sectionHeaderLineRE = regexp.MustCompile("\\A\\[" + token + "\\]\\z")
var optionLineRE = regexp.MustCompile("\\A" + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
var optionNameOptionValuesSeparatorRE = regexp.MustCompile(assignment)
var optionValueSeparatorRE = regexp.MustCompile(separator)
var includeLineRE = regexp.MustCompile("\\A\\.include" + whiteSpace + token + "\\z")

func splitOptionValues(optionValues string) (optionValuesSplit []string) {
	if "" == optionValues {
		optionValuesSplit = []string{}
	} else {
		optionValuesSplit = optionValueSeparatorRE.Split(optionValues, -1)
	}
	return
}

// UpdateFromString modifies a pre-existing ConfMap based on an update
// specified in confString (e.g., from an extra command-line argument)
func (confMap ConfMap) UpdateFromString(confString string) (err error) {
	var (
		optionPayload     []string
		sectionAndPayload []string
		trimmed           string
	)

	trimmed = strings.Trim(confString, " \t")

	if 0 == len(trimmed) {
		err = fmt.Errorf("trimmed confString: \"%v\" was found to be empty", confString)
		return
	}

	if !stringRE.MatchString(trimmed) {
		err = fmt.Errorf("malformed confString: \"%v\"", confString)
		return
	}

	sectionAndPayload = sectionNameOptionNameSeparatorRE.Split(trimmed, 2)
	optionPayload = optionNameOptionValuesSeparatorRE.Split(sectionAndPayload[1], 2)

	confMap.SetOption(sectionAndPayload[0], optionPayload[0], splitOptionValues(optionPayload[1]))

	err = nil
	return
}

// UpdateFromFile modifies a pre-existing ConfMap based on updates specified
// in confFilePath ("-" reads stdin). Files named *.yaml or *.yml are parsed
// by UpdateFromYAML.
func (confMap ConfMap) UpdateFromFile(confFilePath string) (err error) {
	var (
		confFileBytes []byte
	)

	if "-" == confFilePath {
		confFileBytes, err = io.ReadAll(os.Stdin)
	} else {
		confFileBytes, err = os.ReadFile(confFilePath)
	}
	if nil != err {
		return
	}

	switch filepath.Ext(confFilePath) {
	case ".yaml", ".yml":
		err = confMap.UpdateFromYAML(confFileBytes)
	default:
		err = confMap.updateFromINI(confFilePath, confFileBytes)
	}

	return
}

func (confMap ConfMap) updateFromINI(confFilePath string, confFileBytes []byte) (err error) {
	var (
		currentLine        string
		currentLineNumber  int
		currentSectionName string
		nestedConfFilePath string
		optionPayload      []string
		scanner            *bufio.Scanner
	)

	if (0 < len(confFileBytes)) && ('\n' != confFileBytes[len(confFileBytes)-1]) {
		err = fmt.Errorf("file %v did not end in a '\\n' character", confFilePath)
		return
	}

	scanner = bufio.NewScanner(bytes.NewReader(confFileBytes))

	for scanner.Scan() {
		currentLineNumber++

		currentLine = strings.SplitN(scanner.Text(), ";", 2)[0]
		currentLine = strings.SplitN(currentLine, "#", 2)[0]
		currentLine = strings.Trim(currentLine, " \t\r")

		if 0 == len(currentLine) {
			continue
		}

		switch {
		case includeLineRE.MatchString(currentLine):
			nestedConfFilePath = strings.TrimSpace(strings.TrimPrefix(currentLine, ".include"))
			if !filepath.IsAbs(nestedConfFilePath) {
				nestedConfFilePath = filepath.Join(filepath.Dir(confFilePath), nestedConfFilePath)
			}

			err = confMap.UpdateFromFile(nestedConfFilePath)
			if nil != err {
				return
			}

			currentSectionName = ""
		case sectionHeaderLineRE.MatchString(currentLine):
			currentSectionName = currentLine[1 : len(currentLine)-1]
		default:
			if "" == currentSectionName {
				err = fmt.Errorf("file %v line %v: option outside of any section", confFilePath, currentLineNumber)
				return
			}

			if !optionLineRE.MatchString(currentLine) {
				err = fmt.Errorf("file %v line %v: malformed line '%v'", confFilePath, currentLineNumber, currentLine)
				return
			}

			optionPayload = optionNameOptionValuesSeparatorRE.Split(currentLine, 2)

			confMap.SetOption(currentSectionName, optionPayload[0], splitOptionValues(optionPayload[1]))
		}
	}

	err = scanner.Err()

	return
}
