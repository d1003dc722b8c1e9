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

package aggexec

import (
	"strings"
	"sync"

	"github.com/matrixorigin/groupagg/pkg/common/moerr"
	"github.com/matrixorigin/groupagg/pkg/container/types"
)

/*
	methods to register the aggregation function.
	after registered, the function `MakeAgg` can make the aggregation function executor.
*/

// AggMaker makes an executor for the argument types.
type AggMaker func(argTypes []types.Type) (AggFuncExec, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AggMaker)

	groupConcatSep = ","
)

// RegisterAgg registers maker under name, replacing an earlier registration.
func RegisterAgg(name string, maker AggMaker) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = maker
}

// MakeAgg makes a new executor of the aggregate name.
func MakeAgg(name string, argTypes []types.Type) (AggFuncExec, error) {
	registryMu.RLock()
	maker, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, moerr.NewNotSupportedNoCtx("aggregate function %s", name)
	}
	return maker(argTypes)
}

func init() {
	RegisterAgg("count", makeCount)
	RegisterAgg("sum", makeSum)
	RegisterAgg("avg", makeAvg)
	RegisterAgg("min", func(argTypes []types.Type) (AggFuncExec, error) {
		return makeMinMax("min", argTypes, false)
	})
	RegisterAgg("max", func(argTypes []types.Type) (AggFuncExec, error) {
		return makeMinMax("max", argTypes, true)
	})
	RegisterAgg("approx_count_distinct", makeApproxCountDistinct)
	RegisterAgg("group_concat", makeGroupConcat)
}

func checkArgCount(name string, argTypes []types.Type, n int) error {
	if len(argTypes) != n {
		return moerr.NewInvalidInputNoCtx("%s takes %d arguments, got %d", name, n, len(argTypes))
	}
	return nil
}

func makeCount(argTypes []types.Type) (AggFuncExec, error) {
	if len(argTypes) > 1 {
		return nil, moerr.NewInvalidInputNoCtx("count takes at most 1 argument, got %d", len(argTypes))
	}
	return newCount(argTypes), nil
}

func makeSum(argTypes []types.Type) (AggFuncExec, error) {
	if err := checkArgCount("sum", argTypes, 1); err != nil {
		return nil, err
	}
	argType := argTypes[0]
	switch argType.Oid {
	case types.T_int32:
		return newSum[int32, int64](argType, types.T_int64.ToType()), nil
	case types.T_int64:
		return newSum[int64, int64](argType, types.T_int64.ToType()), nil
	case types.T_float64:
		return newSum[float64, float64](argType, types.T_float64.ToType()), nil
	}
	return nil, moerr.NewNotSupportedNoCtx("sum of %s", argType)
}

func makeAvg(argTypes []types.Type) (AggFuncExec, error) {
	if err := checkArgCount("avg", argTypes, 1); err != nil {
		return nil, err
	}
	argType := argTypes[0]
	switch argType.Oid {
	case types.T_int32:
		return newAvg[int32](argType), nil
	case types.T_int64:
		return newAvg[int64](argType), nil
	case types.T_float64:
		return newAvg[float64](argType), nil
	}
	return nil, moerr.NewNotSupportedNoCtx("avg of %s", argType)
}

func makeMinMax(name string, argTypes []types.Type, isMax bool) (AggFuncExec, error) {
	if err := checkArgCount(name, argTypes, 1); err != nil {
		return nil, err
	}
	argType := argTypes[0]
	switch argType.Oid {
	case types.T_int32:
		return newMinMax[int32](argType, isMax), nil
	case types.T_int64:
		return newMinMax[int64](argType, isMax), nil
	case types.T_float64:
		return newMinMax[float64](argType, isMax), nil
	}
	return nil, moerr.NewNotSupportedNoCtx("%s of %s", name, argType)
}

func makeApproxCountDistinct(argTypes []types.Type) (AggFuncExec, error) {
	if err := checkArgCount("approx_count_distinct", argTypes, 1); err != nil {
		return nil, err
	}
	return newApproxCountDistinct(argTypes[0]), nil
}

// group_concat(x) or group_concat(x, separator).
func makeGroupConcat(argTypes []types.Type) (AggFuncExec, error) {
	if len(argTypes) != 1 && len(argTypes) != 2 {
		return nil, moerr.NewInvalidInputNoCtx("group_concat takes 1 or 2 arguments, got %d", len(argTypes))
	}
	for _, typ := range argTypes {
		if !typ.IsVarlen() {
			return nil, moerr.NewNotSupportedNoCtx("group_concat of %s", typ)
		}
	}
	return newGroupConcat(argTypes, groupConcatSep), nil
}
