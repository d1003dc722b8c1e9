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

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()
)

func GetPrometheusRegistry() prometheus.Registerer {
	return registry
}

func GetPrometheusGatherer() prometheus.Gatherer {
	return registry
}

func init() {
	initMemMetrics()
	initAggMetrics()
}

func initMemMetrics() {
	registry.MustRegister(memMPoolAllocatedSizeGauge)
	registry.MustRegister(memMPoolReservedSizeGauge)
	registry.MustRegister(MemReservationFailedCounter)
	registry.MustRegister(MemArbitrationCounter)
}

func initAggMetrics() {
	registry.MustRegister(aggSpillRunCounter)
	registry.MustRegister(AggSpillRowsCounter)
	registry.MustRegister(AggSpillBytesCounter)
	registry.MustRegister(AggSpillFilesCounter)
	registry.MustRegister(AggMergeOutputRowsCounter)
	registry.MustRegister(AggAbandonPartialCounter)
	registry.MustRegister(AggSpillWriteDurationHistogram)
}
