// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UpdateFromYAML merges a YAML document shaped as
//
//   Scrubber:
//     Schedule: timed
//     EvictThreshold: 10
//   Logging:
//     TraceLevelLogging: [scrub, sched]
//
// into confMap. Scalars become single-valued options and sequences become
// multi-valued options.
func (confMap ConfMap) UpdateFromYAML(yamlBytes []byte) (err error) {
	var (
		document map[string]map[string]interface{}
	)

	err = yaml.Unmarshal(yamlBytes, &document)
	if nil != err {
		err = fmt.Errorf("yaml.Unmarshal() failed: %v", err)
		return
	}

	for sectionName, section := range document {
		for optionName, optionValue := range section {
			switch typedValue := optionValue.(type) {
			case nil:
				confMap.SetOption(sectionName, optionName, []string{})
			case []interface{}:
				optionValues := make([]string, 0, len(typedValue))
				for _, elementValue := range typedValue {
					optionValues = append(optionValues, fmt.Sprint(elementValue))
				}
				confMap.SetOption(sectionName, optionName, optionValues)
			case map[string]interface{}:
				err = fmt.Errorf("[%v]%v must be a scalar or a sequence", sectionName, optionName)
				return
			default:
				confMap.SetOption(sectionName, optionName, []string{fmt.Sprint(typedValue)})
			}
		}
	}

	err = nil
	return
}

// DumpYAML renders confMap in the form UpdateFromYAML accepts.
func (confMap ConfMap) DumpYAML() (yamlBytes []byte, err error) {
	var (
		document = make(map[string]map[string][]string)
	)

	for sectionName, section := range confMap {
		document[sectionName] = make(map[string][]string)
		for optionName, optionValues := range section {
			document[sectionName][optionName] = optionValues
		}
	}

	yamlBytes, err = yaml.Marshal(document)

	return
}
