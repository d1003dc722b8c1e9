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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`
[log]
level = "debug"

[spill]
enabled = true
dir = "/tmp/spill"
num-partition-bits = 2
compression = "none"

[query]
preferred-output-batch-rows = 10
hash-adaptivity-enabled = true
`)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "console", cfg.Log.Format)
	require.True(t, cfg.Spill.Enabled)
	require.Equal(t, uint8(2), cfg.Spill.NumPartitionBits)
	require.Equal(t, uint8(defaultStartPartitionBit), cfg.Spill.StartPartitionBit)
	require.Equal(t, "none", cfg.Spill.Compression)
	require.Equal(t, int64(2), cfg.Spill.FlatSizeMultiplier)
	require.Equal(t, 1.2, cfg.Spill.OutputReservationRatio)
	require.Equal(t, 10, cfg.Query.PreferredOutputBatchRows)
	require.True(t, cfg.Query.HashAdaptivityEnabled)
}

func TestValidate(t *testing.T) {
	_, err := ParseConfig(`
[spill]
enabled = true
`)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))

	_, err = ParseConfig(`
[spill]
enabled = true
dir = "x"
compression = "zstd"
`)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))

	_, err = ParseConfig(`
[spill]
enabled = true
dir = "x"
num-partition-bits = 9
`)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))

	_, err = ParseConfig(`[spill`)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agg.toml")
	require.NoError(t, os.WriteFile(path, []byte("[query]\nmax-partial-aggregation-bytes = 1024\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, int64(1024), cfg.Query.MaxPartialAggregationBytes)
	require.False(t, cfg.Spill.Enabled)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestNewSpillConfig(t *testing.T) {
	s := NewSpillConfig("/tmp/x")
	require.NoError(t, s.Validate())
	require.Equal(t, defaultSpillWorkers, s.SpillWorkers)
	require.True(t, NewQueryConfig().HashAdaptivityEnabled)
}
