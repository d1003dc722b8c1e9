// Copyright 2023 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package v2

import "github.com/prometheus/client_golang/prometheus"

var (
	aggSpillRunCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "agg",
			Name:      "spill_run_total",
			Help:      "Total number of spill passes of grouping sets.",
		}, []string{"type"})
	AggInputSpillRunCounter  = aggSpillRunCounter.WithLabelValues("input")
	AggOutputSpillRunCounter = aggSpillRunCounter.WithLabelValues("output")

	AggSpillRowsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "agg",
			Name:      "spill_rows_total",
			Help:      "Total number of rows written to spill files.",
		})

	AggSpillBytesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "agg",
			Name:      "spill_bytes_total",
			Help:      "Total number of bytes written to spill files.",
		})

	AggSpillFilesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "agg",
			Name:      "spill_files_total",
			Help:      "Total number of spill files written.",
		})

	AggMergeOutputRowsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "agg",
			Name:      "merge_output_rows_total",
			Help:      "Total number of rows produced by merging spilled partitions.",
		})

	AggAbandonPartialCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "agg",
			Name:      "abandon_partial_total",
			Help:      "Total number of partial aggregations switched to pass through.",
		})

	AggSpillWriteDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mo",
			Subsystem: "agg",
			Name:      "spill_write_duration_seconds",
			Help:      "Bucketed histogram of one spill pass duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2.0, 20),
		})
)
