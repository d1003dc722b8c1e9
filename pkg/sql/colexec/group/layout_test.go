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
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/matrixorigin/groupagg/pkg/common/mpool"
	"github.com/matrixorigin/groupagg/pkg/container/rowcontainer"
	"github.com/matrixorigin/groupagg/pkg/container/types"
	"github.com/matrixorigin/groupagg/pkg/sql/colexec/aggexec"
)

func layoutTestOptions(t *testing.T) Options {
	return Options{
		InputTypes:  []types.Type{int64Typ, int64Typ, varcharTyp},
		KeyChannels: []int32{0},
		Aggregates: []AggregateInfo{
			sumOf(t, 1, 1),
			{
				Function: makeAgg(t, "count", int64Typ),
				Inputs:   []int32{1},
				Mask:     NoMask,
				Distinct: true,
				Output:   2,
			},
			{
				Function:      makeAgg(t, "group_concat", varcharTyp),
				Inputs:        []int32{2},
				Mask:          NoMask,
				SortingKeys:   []int32{1},
				SortingOrders: []aggexec.SortOrder{{Desc: true}},
				Output:        3,
			},
		},
	}
}

func TestLayout(t *testing.T) {
	Convey("the row layout of a grouping set", t, func() {
		g := newTestGroupingSet(t, layoutTestOptions(t))
		defer g.Close()
		pool := mpool.MustNewZero()

		Convey("is the same for every row container", func() {
			a := rowcontainer.NewRowContainer(g.keyTypes, g.accumulators(false), pool)
			b := rowcontainer.NewRowContainer(g.keyTypes, g.accumulators(false), pool)
			defer a.Clear()
			defer b.Clear()
			So(a.Layout(), ShouldResemble, b.Layout())
			So(len(a.Layout().Offsets), ShouldEqual, 3+1+1)

			g.initializeAggregates(a, false)
			g.initializeAggregates(a, false)
			So(a.Layout(), ShouldResemble, b.Layout())
		})

		Convey("leaves out the functions converting rows on their own", func() {
			all := g.accumulators(false)
			rest := g.accumulators(true)
			So(len(rest), ShouldBeLessThan, len(all))
		})

		Convey("puts the sorted buffers after the functions and the distinct sets last", func() {
			aggColumns, sortedColumn := g.spillColumns()
			So(aggColumns, ShouldResemble, []int{1, 5, 3})
			So(sortedColumn, ShouldEqual, 4)
		})
	})
}
