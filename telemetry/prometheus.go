// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "scrubber"

var targetLabels = []string{"pool", "target"}

type collectorStruct struct {
	registry          *Registry
	started           *prometheus.Desc
	ended             *prometheus.Desc
	lastDuration      *prometheus.Desc
	sleep             *prometheus.Desc
	csumCalcs         *prometheus.Desc
	lastCsumCalcs     *prometheus.Desc
	totalCsumCalcs    *prometheus.Desc
	corruption        *prometheus.Desc
	totalCorruption   *prometheus.Desc
	corruptTargetsTot *prometheus.Desc
}

// Collector returns a prometheus.Collector reporting every ScrubMetrics
// registered at scrape time.
func (registry *Registry) Collector() prometheus.Collector {
	newDesc := func(name string, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricNamespace, "", name), help, labels, nil)
	}

	return &collectorStruct{
		registry:          registry,
		started:           newDesc("started_timestamp_seconds", "When the current scrubbing pass started", targetLabels),
		ended:             newDesc("ended_timestamp_seconds", "When the last scrubbing pass ended", targetLabels),
		lastDuration:      newDesc("last_duration_seconds", "How long the previous scrubbing pass took", targetLabels),
		sleep:             newDesc("sleep_milliseconds", "How long waiting between checksum calculations", targetLabels),
		csumCalcs:         newDesc("csums_current", "Number of checksums calculated for current pass", targetLabels),
		lastCsumCalcs:     newDesc("csums_prev", "Number of checksums calculated in last pass", targetLabels),
		totalCsumCalcs:    newDesc("csums_total", "Total number of checksums calculated", targetLabels),
		corruption:        newDesc("corruption_current", "Number of silent data corruptions detected during current pass", targetLabels),
		totalCorruption:   newDesc("corruption_total", "Total number of silent data corruptions detected", targetLabels),
		corruptTargetsTot: newDesc("events_corrupt_target_total", "Number of targets escalated for drain", nil),
	}
}

func (collector *collectorStruct) Describe(ch chan<- *prometheus.Desc) {
	ch <- collector.started
	ch <- collector.ended
	ch <- collector.lastDuration
	ch <- collector.sleep
	ch <- collector.csumCalcs
	ch <- collector.lastCsumCalcs
	ch <- collector.totalCsumCalcs
	ch <- collector.corruption
	ch <- collector.totalCorruption
	ch <- collector.corruptTargetsTot
}

func (collector *collectorStruct) Collect(ch chan<- prometheus.Metric) {
	for _, metrics := range collector.registry.sortedMetrics() {
		snapshot := metrics.snapshot()
		labels := []string{snapshot.PoolID, strconv.FormatUint(uint64(snapshot.Target), 10)}

		gauge := func(desc *prometheus.Desc, value float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
		}
		counter := func(desc *prometheus.Desc, value uint64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value), labels...)
		}

		if snapshot.Started.IsZero() {
			gauge(collector.started, 0)
		} else {
			gauge(collector.started, float64(snapshot.Started.UnixNano())/1e9)
		}
		if snapshot.Ended.IsZero() {
			gauge(collector.ended, 0)
		} else {
			gauge(collector.ended, float64(snapshot.Ended.UnixNano())/1e9)
		}
		gauge(collector.lastDuration, snapshot.LastDuration.Seconds())
		gauge(collector.sleep, float64(snapshot.SleepMsecs))
		gauge(collector.csumCalcs, float64(snapshot.CsumCalcs))
		gauge(collector.lastCsumCalcs, float64(snapshot.LastCsumCalcs))
		counter(collector.totalCsumCalcs, snapshot.TotalCsumCalcs)
		gauge(collector.corruption, float64(snapshot.Corruption))
		counter(collector.totalCorruption, snapshot.TotalCorruption)
	}

	ch <- prometheus.MustNewConstMetric(collector.corruptTargetsTot, prometheus.CounterValue, float64(collector.registry.CorruptTargets()))
}
