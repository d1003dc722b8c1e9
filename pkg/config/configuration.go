// Copyright 2021 Matrix Origin
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

package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/logutil"
)

const (
	defaultStartPartitionBit             = 29
	defaultNumPartitionBits              = 3
	defaultMaxSpillRunRows               = 12 << 20
	defaultWriteBufferSize               = 1 << 20
	defaultReadBufferSize                = 1 << 20
	defaultSpillWorkers                  = 4
	defaultMinSpillableReservationPct    = 5
	defaultSpillableReservationGrowthPct = 10
	defaultFlatSizeMultiplier            = 2
	defaultIncrementHeadroomMultiplier   = 2
	defaultOutputReservationRatio        = 1.2

	defaultPreferredOutputBatchRows  = 1024
	defaultPreferredOutputBatchBytes = 10 << 20
	defaultMaxPartialAggregationSize = 16 << 20
	defaultAbandonPartialMinRows     = 100000
	defaultAbandonPartialMinPct      = 80

	// maxNumPartitionBits bounds the number of spill partitions of one pass.
	maxNumPartitionBits = 6
)

// Config is the whole configuration of the aggregation engine.
type Config struct {
	Log   logutil.LogConfig `toml:"log"`
	Spill SpillConfig       `toml:"spill"`
	Query QueryConfig       `toml:"query"`
}

// SpillConfig controls when and how a grouping set spills.
type SpillConfig struct {
	//default is false. spilling is considered only when enabled
	Enabled bool `toml:"enabled"`

	//the directory holding spill run files
	Dir string `toml:"dir"`

	//default is 29. the lowest hash bit used to pick a spill partition
	StartPartitionBit uint8 `toml:"start-partition-bit"`

	//default is 3. the number of hash bits used to pick a spill partition
	NumPartitionBits uint8 `toml:"num-partition-bits"`

	//default is 12M. the max rows of one sorted spill run, 0 means unlimited
	MaxSpillRunRows uint64 `toml:"max-spill-run-rows"`

	//default is 1MB. the buffer size of spill file writers
	WriteBufferSize int `toml:"write-buffer-size"`

	//default is 1MB. the buffer size of spill file readers
	ReadBufferSize int `toml:"read-buffer-size"`

	//default is "lz4". "none" or "lz4"
	Compression string `toml:"compression"`

	//default is 4. the number of goroutines writing spill partitions
	SpillWorkers int `toml:"spill-workers"`

	//default is 5. the minimal unused reservation, as percent of the current
	//usage, to accept an input batch without growing the reservation
	MinSpillableReservationPct int64 `toml:"min-spillable-reservation-pct"`

	//default is 10. the reservation growth, as percent of the current usage
	SpillableReservationGrowthPct int64 `toml:"spillable-reservation-growth-pct"`

	//default is 2. the factor applied to the flat input size to bound the
	//out-of-line growth of one batch
	FlatSizeMultiplier int64 `toml:"flat-size-multiplier"`

	//default is 2. the unused reservation must exceed the increment times
	//this factor
	IncrementHeadroomMultiplier int64 `toml:"increment-headroom-multiplier"`

	//default is 1.2. the output reservation as a ratio of the preferred
	//output batch bytes
	OutputReservationRatio float64 `toml:"output-reservation-ratio"`
}

// QueryConfig holds the per query knobs read by the aggregation operator.
type QueryConfig struct {
	//default is 1024. the max rows of one output batch
	PreferredOutputBatchRows int `toml:"preferred-output-batch-rows"`

	//default is 10MB. the max bytes of one output batch
	PreferredOutputBatchBytes int64 `toml:"preferred-output-batch-bytes"`

	//default is true. allow the hash table to pick array or normalized key modes
	HashAdaptivityEnabled bool `toml:"hash-adaptivity-enabled"`

	//default is 16MB. a partial aggregation flushes when it grows past this
	MaxPartialAggregationBytes int64 `toml:"max-partial-aggregation-bytes"`

	//default is 100000. partial aggregation is not abandoned before this many input rows
	AbandonPartialAggregationMinRows int64 `toml:"abandon-partial-aggregation-min-rows"`

	//default is 80. partial aggregation is abandoned when groups/input rows exceeds this percent
	AbandonPartialAggregationMinPct int64 `toml:"abandon-partial-aggregation-min-pct"`
}

// SetDefaultValues fills the unset fields.
func (c *Config) SetDefaultValues() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	c.Spill.SetDefaultValues()
	c.Query.SetDefaultValues()
}

func (s *SpillConfig) SetDefaultValues() {
	if s.StartPartitionBit == 0 {
		s.StartPartitionBit = defaultStartPartitionBit
	}
	if s.NumPartitionBits == 0 {
		s.NumPartitionBits = defaultNumPartitionBits
	}
	if s.MaxSpillRunRows == 0 {
		s.MaxSpillRunRows = defaultMaxSpillRunRows
	}
	if s.WriteBufferSize == 0 {
		s.WriteBufferSize = defaultWriteBufferSize
	}
	if s.ReadBufferSize == 0 {
		s.ReadBufferSize = defaultReadBufferSize
	}
	if s.Compression == "" {
		s.Compression = "lz4"
	}
	if s.SpillWorkers == 0 {
		s.SpillWorkers = defaultSpillWorkers
	}
	if s.MinSpillableReservationPct == 0 {
		s.MinSpillableReservationPct = defaultMinSpillableReservationPct
	}
	if s.SpillableReservationGrowthPct == 0 {
		s.SpillableReservationGrowthPct = defaultSpillableReservationGrowthPct
	}
	if s.FlatSizeMultiplier == 0 {
		s.FlatSizeMultiplier = defaultFlatSizeMultiplier
	}
	if s.IncrementHeadroomMultiplier == 0 {
		s.IncrementHeadroomMultiplier = defaultIncrementHeadroomMultiplier
	}
	if s.OutputReservationRatio == 0 {
		s.OutputReservationRatio = defaultOutputReservationRatio
	}
}

func (q *QueryConfig) SetDefaultValues() {
	if q.PreferredOutputBatchRows == 0 {
		q.PreferredOutputBatchRows = defaultPreferredOutputBatchRows
	}
	if q.PreferredOutputBatchBytes == 0 {
		q.PreferredOutputBatchBytes = defaultPreferredOutputBatchBytes
	}
	if q.MaxPartialAggregationBytes == 0 {
		q.MaxPartialAggregationBytes = defaultMaxPartialAggregationSize
	}
	if q.AbandonPartialAggregationMinRows == 0 {
		q.AbandonPartialAggregationMinRows = defaultAbandonPartialMinRows
	}
	if q.AbandonPartialAggregationMinPct == 0 {
		q.AbandonPartialAggregationMinPct = defaultAbandonPartialMinPct
	}
}

// Validate checks the spill settings.
func (s *SpillConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Dir == "" {
		return moerr.NewBadConfigNoCtx("spill dir is empty")
	}
	if s.NumPartitionBits > maxNumPartitionBits {
		return moerr.NewBadConfigNoCtx("num-partition-bits %d exceeds %d", s.NumPartitionBits, maxNumPartitionBits)
	}
	if int(s.StartPartitionBit)+int(s.NumPartitionBits) > 64 {
		return moerr.NewBadConfigNoCtx("partition bits [%d, %d) out of a 64 bit hash",
			s.StartPartitionBit, int(s.StartPartitionBit)+int(s.NumPartitionBits))
	}
	switch s.Compression {
	case "lz4", "none":
	default:
		return moerr.NewBadConfigNoCtx("unknown spill compression %q", s.Compression)
	}
	if s.SpillWorkers < 1 {
		return moerr.NewBadConfigNoCtx("spill-workers must be positive")
	}
	if s.FlatSizeMultiplier < 1 || s.IncrementHeadroomMultiplier < 1 || s.OutputReservationRatio <= 0 {
		return moerr.NewBadConfigNoCtx("spill reservation multipliers must be positive")
	}
	return nil
}

// Validate checks the whole config.
func (c *Config) Validate() error {
	if err := c.Spill.Validate(); err != nil {
		return err
	}
	if c.Query.PreferredOutputBatchRows <= 0 {
		return moerr.NewBadConfigNoCtx("preferred-output-batch-rows must be positive")
	}
	return nil
}

// ParseConfig decodes a toml document, fills defaults and validates.
func ParseConfig(data string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, moerr.NewBadConfigNoCtx("decode toml: %v", err)
	}
	cfg.SetDefaultValues()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads the toml file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, moerr.NewBadConfigNoCtx("read %s: %v", path, err)
	}
	return ParseConfig(string(data))
}

// NewSpillConfig returns an enabled spill config writing under dir.
func NewSpillConfig(dir string) *SpillConfig {
	s := &SpillConfig{Enabled: true, Dir: dir}
	s.SetDefaultValues()
	return s
}

// NewQueryConfig returns the default query config.
func NewQueryConfig() *QueryConfig {
	q := &QueryConfig{HashAdaptivityEnabled: true}
	q.SetDefaultValues()
	return q
}
