// Copyright 2024-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package validator

import (
	"fmt"
	"math"
	"sort"

	"github.com/marketscreen/ms-api/dsl"
)

// interval tracks the feasible region for one scalar field at one
// AND-level. Bounds may be open or closed; eq pins an exact value and neq
// records exclusions.
type interval struct {
	lo, hi         float64
	loOpen, hiOpen bool
	eq             *float64
	neq            []float64
	conds          []string
}

func newInterval() *interval {
	return &interval{lo: math.Inf(-1), hi: math.Inf(1)}
}

func (iv *interval) describe(field string) string {
	return fmt.Sprintf("conflicting conditions on %q: %v", field, iv.conds)
}

// apply narrows the interval with one condition; returns false when the
// region becomes empty.
func (iv *interval) apply(op string, v float64, desc string) bool {
	if desc != "" {
		iv.conds = append(iv.conds, desc)
	}
	switch op {
	case ">":
		if v > iv.lo || (v == iv.lo && !iv.loOpen) {
			iv.lo, iv.loOpen = v, true
		}
	case ">=":
		if v > iv.lo {
			iv.lo, iv.loOpen = v, false
		}
	case "<":
		if v < iv.hi || (v == iv.hi && !iv.hiOpen) {
			iv.hi, iv.hiOpen = v, true
		}
	case "<=":
		if v < iv.hi {
			iv.hi, iv.hiOpen = v, false
		}
	case "=":
		if iv.eq != nil && *iv.eq != v {
			return false
		}
		iv.eq = &v
	case "!=":
		iv.neq = append(iv.neq, v)
	}
	return iv.feasible()
}

func (iv *interval) feasible() bool {
	if iv.lo > iv.hi {
		return false
	}
	if iv.lo == iv.hi && (iv.loOpen || iv.hiOpen) {
		return false
	}
	if iv.eq != nil {
		v := *iv.eq
		if v < iv.lo || v > iv.hi {
			return false
		}
		if v == iv.lo && iv.loOpen {
			return false
		}
		if v == iv.hi && iv.hiOpen {
			return false
		}
		for _, x := range iv.neq {
			if x == v {
				return false
			}
		}
	}
	return true
}

// checkConflicts walks AND-levels and rejects unsatisfiable constraint
// sets per scalar field. OR branches are checked independently; a
// condition inside NOT is skipped since its constraint is inverted.
func (v *Validator) checkConflicts(n *dsl.Node, path string, res *Result) {
	if len(n.And) > 0 {
		byField := make(map[string]*interval)
		order := []string{}
		bad := map[string]bool{}
		for i := range n.And {
			child := &n.And[i]
			if child.Cond == nil {
				v.checkConflicts(child, fmt.Sprintf("%s.and[%d]", path, i), res)
				continue
			}
			c := child.Cond
			if c.ValueIsField || c.Period != nil {
				continue
			}
			num, ok := toFloat(c.Value)
			switch c.Operator {
			case "<", ">", "<=", ">=", "=", "!=":
				if !ok {
					continue
				}
				iv, seen := byField[c.Field]
				if !seen {
					iv = newInterval()
					byField[c.Field] = iv
					order = append(order, c.Field)
				}
				desc := fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
				if !iv.apply(c.Operator, num, desc) {
					bad[c.Field] = true
				}
			case "between":
				pair, pok := toFloatSlice(c.Value)
				if !pok || len(pair) != 2 {
					continue
				}
				iv, seen := byField[c.Field]
				if !seen {
					iv = newInterval()
					byField[c.Field] = iv
					order = append(order, c.Field)
				}
				desc := fmt.Sprintf("%s between [%v, %v]", c.Field, pair[0], pair[1])
				if !iv.apply(">=", pair[0], desc) || !iv.apply("<=", pair[1], "") {
					bad[c.Field] = true
				}
			}
		}
		sort.Strings(order)
		for _, field := range order {
			if bad[field] {
				res.err(path+".and", KindLogicalConflict,
					byField[field].describe(field),
					"the combined conditions can never be true together")
			}
		}
		return
	}
	if len(n.Or) > 0 {
		for i := range n.Or {
			v.checkConflicts(&n.Or[i], fmt.Sprintf("%s.or[%d]", path, i), res)
		}
	}
	// NOT subtrees invert their constraints; interval narrowing does not
	// apply there.
}
