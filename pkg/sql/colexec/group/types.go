// Copyright 2024 Matrix Origin
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

package group

import (
	"sync/atomic"

	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/config"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/container/vector"
	"github.com/matrixorigin/groupagg/pkg/fileservice"
	"github.com/matrixorigin/groupagg/pkg/sql/colexec/aggexec"
)

const (
	// ConstantChannel is the input channel of an argument given as a
	// constant.
	ConstantChannel = aggexec.NoChannel
	// NoMask is the mask channel of an unmasked aggregate.
	NoMask = aggexec.NoChannel
)

// AggregateInfo is one aggregate computed by a grouping set.
type AggregateInfo struct {
	Function aggexec.AggFuncExec

	// Inputs are the input channels of the arguments. An argument with
	// ConstantChannel reads ConstantInputs at the same position.
	Inputs         []int32
	ConstantInputs []*vector.Vector

	// Mask is a boolean input channel, rows where it is false or null are
	// not added. NoMask adds every row.
	Mask int32

	// Distinct aggregates see every distinct argument tuple of a group once.
	Distinct bool

	// SortingKeys order the input of the aggregate inside a group.
	SortingKeys   []int32
	SortingOrders []aggexec.SortOrder

	// Output is the column of the result inside an output batch. Key
	// columns come first.
	Output int32

	// IntermediateType is the type of the partial result, it defaults to
	// the intermediate type of Function.
	IntermediateType *types.Type
}

func (a *AggregateInfo) sorted() bool {
	return len(a.SortingKeys) > 0
}

func (a *AggregateInfo) intermediateType() types.Type {
	if a.IntermediateType != nil {
		return *a.IntermediateType
	}
	return a.Function.IntermediateType()
}

// Options configures a GroupingSet.
type Options struct {
	InputTypes  []types.Type
	KeyChannels []int32
	// PreGroupedKeys are the key channels the input is clustered on.
	PreGroupedKeys []int32
	// KeyOutputProjections maps output key column i to key
	// KeyOutputProjections[i]. Empty means the identity.
	KeyOutputProjections []int32

	Aggregates []AggregateInfo

	// IgnoreNullKeys drops input rows with a null key.
	IgnoreNullKeys bool
	// IsPartial makes the output carry intermediate results.
	IsPartial bool
	// IsRawInput is false when the input carries intermediate results.
	IsRawInput bool

	// GlobalGroupingSets are the grouping set ids producing one default
	// row each when the input is empty. GroupIDChannel is the key column
	// holding the grouping set id.
	GlobalGroupingSets []int64
	GroupIDChannel     int32

	// Spill is nil or disabled when the grouping set must not spill.
	Spill *config.SpillConfig
	Query *config.QueryConfig
	// FileService receives the spill runs. A local file service under
	// Spill.Dir is created when nil.
	FileService fileservice.FileService

	Pool *mpool.MPool
	// NonReclaimableSection is owned by the operator registered as the
	// reclaimer of Pool.
	NonReclaimableSection *atomic.Bool
}

// OutputIterator is the position of the output of a grouping set.
type OutputIterator struct {
	rows rowcontainer.RowIterator
	done bool
}

func (it *OutputIterator) Reset() {
	it.rows.Reset()
	it.done = false
}
