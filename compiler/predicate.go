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

package compiler

import (
	"fmt"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/dsl"
)

var trendOperators = map[string]bool{
	"increasing": true,
	"decreasing": true,
	"stable":     true,
}

func (cp *Compiler) compileNode(e *emitter, n *dsl.Node, meta *Metadata) error {
	switch {
	case len(n.And) > 0:
		for i := range n.And {
			if i > 0 {
				e.write(" AND ")
			}
			if err := cp.compileNode(e, &n.And[i], meta); err != nil {
				return err
			}
		}
		return nil
	case len(n.Or) > 0:
		e.write("(")
		for i := range n.Or {
			if i > 0 {
				e.write(" OR ")
			}
			if err := cp.compileNode(e, &n.Or[i], meta); err != nil {
				return err
			}
		}
		e.write(")")
		return nil
	case n.Not != nil:
		e.write("NOT (")
		if err := cp.compileNode(e, n.Not, meta); err != nil {
			return err
		}
		e.write(")")
		return nil
	case n.Cond != nil:
		return cp.compileCond(e, n.Cond, meta)
	}
	return fmt.Errorf("%w: node has no members", ErrInvalidTree)
}

func (cp *Compiler) compileCond(e *emitter, c *dsl.Cond, meta *Metadata) error {
	field := cp.cat.Resolve(c.Field)
	if field == nil {
		return fmt.Errorf("%w: %s", ErrUnknownField, c.Field)
	}

	// Trend conditions never compile to SQL; they are evaluated by the
	// runner over the fetched window, so the predicate treats them as
	// satisfied.
	if trendOperators[c.Operator] || (c.Period != nil && c.Period.Aggregation == dsl.AggTrend) {
		meta.UsesTimeSeries = true
		meta.TrendConditions = append(meta.TrendConditions, *c)
		e.write("TRUE")
		return nil
	}

	if c.NullHandling != nil && c.NullHandling.Strategy == "interpolate" {
		return fmt.Errorf("%w: null_handling strategy interpolate", ErrNotImplemented)
	}

	if c.Period != nil {
		if field.Table == "" {
			return fmt.Errorf("%w: period over derived field %s", ErrInvalidTree, c.Field)
		}
		meta.UsesTimeSeries = true
		return cp.compilePeriod(e, c, field)
	}

	if c.ValueIsField {
		// Cross-field comparisons read both sides from the LATERAL
		// snapshot rows directly.
		name, _ := c.Value.(string)
		rhs := cp.cat.Resolve(name)
		if rhs == nil {
			return fmt.Errorf("%w: cross-field %s", ErrUnknownField, name)
		}
		lhsExpr, err := cp.snapshotExpr(field, meta)
		if err != nil {
			return err
		}
		rhsExpr, err := cp.snapshotExpr(rhs, meta)
		if err != nil {
			return err
		}
		e.writef("%s %s %s", lhsExpr, c.Operator, rhsExpr)
		return nil
	}

	lhs, err := cp.lhsExpr(c, field, meta)
	if err != nil {
		return err
	}
	return cp.applyOperator(e, lhs, c)
}

// lhsExpr produces the left-hand SQL expression for a condition,
// applying the null-handling strategy and the latest-non-null rule for
// bare time-series fields.
func (cp *Compiler) lhsExpr(c *dsl.Cond, field *catalog.Field, meta *Metadata) (string, error) {
	expr, err := cp.fieldExpr(field, meta)
	if err != nil {
		return "", err
	}
	if c.NullHandling == nil {
		return expr, nil
	}
	switch c.NullHandling.Strategy {
	case "", "exclude", "fail":
		return expr, nil
	case "use_default":
		// applyOperator wraps with COALESCE so the default's placeholder is
		// minted in left-to-right position.
		return expr, nil
	case "use_latest":
		if field.Table == "" {
			return expr, nil
		}
		return latestNonNull(field), nil
	default:
		return "", fmt.Errorf("%w: null_handling strategy %q", ErrNotImplemented, c.NullHandling.Strategy)
	}
}

// fieldExpr returns the SQL expression reading a field: derived fields
// expand their formula with a NULLIF denominator guard, bare time-series
// fields read through the latest-non-null subquery, and everything else
// reads the LATERAL snapshot column.
func (cp *Compiler) fieldExpr(field *catalog.Field, meta *Metadata) (string, error) {
	if field.Derived != nil {
		return cp.expandFormula(field, meta)
	}
	if field.TimeSeries {
		meta.UsesTimeSeries = true
		return latestNonNull(field), nil
	}
	return columnRef(field), nil
}

// snapshotExpr reads a field from its LATERAL snapshot row, skipping the
// latest-non-null indirection. Derived fields still expand.
func (cp *Compiler) snapshotExpr(field *catalog.Field, meta *Metadata) (string, error) {
	if field.Derived != nil {
		return cp.expandFormula(field, meta)
	}
	return columnRef(field), nil
}

func (cp *Compiler) expandFormula(field *catalog.Field, meta *Metadata) (string, error) {
	formula := cp.cat.DerivedFormula(field)
	meta.UsesDerivedMetrics = true
	num := cp.cat.Resolve(formula.Numerator)
	den := cp.cat.Resolve(formula.Denominator)
	if num == nil || den == nil {
		return "", fmt.Errorf("%w: formula for %s", ErrUnknownField, field.Name)
	}
	expr := fmt.Sprintf("(%s::numeric / NULLIF(%s::numeric, 0))", columnRef(num), columnRef(den))
	if formula.Multiplier != 0 && formula.Multiplier != 1 {
		expr = fmt.Sprintf("(%s * %g)", expr, formula.Multiplier)
	}
	return expr, nil
}

// applyOperator writes `<expr> OP <placeholders>` for every value-bearing
// operator shape.
func (cp *Compiler) applyOperator(e *emitter, lhs string, c *dsl.Cond) error {
	useDefault := c.NullHandling != nil && c.NullHandling.Strategy == "use_default"
	wrap := func() string {
		if useDefault {
			return fmt.Sprintf("COALESCE(%s, %s)", lhs, e.arg(c.NullHandling.DefaultValue))
		}
		return lhs
	}
	switch c.Operator {
	case "<", ">", "<=", ">=", "=", "!=":
		e.writef("%s %s %s", wrap(), c.Operator, e.arg(c.Value))
	case "between":
		pair, ok := c.Value.([]interface{})
		if !ok || len(pair) != 2 {
			return fmt.Errorf("%w: between needs a 2-element value", ErrInvalidTree)
		}
		expr := wrap()
		e.writef("%s BETWEEN %s AND %s", expr, e.arg(pair[0]), e.arg(pair[1]))
	case "in", "not_in":
		values, ok := c.Value.([]interface{})
		if !ok || len(values) == 0 {
			return fmt.Errorf("%w: %s needs a non-empty array", ErrInvalidTree, c.Operator)
		}
		expr := wrap()
		if c.Operator == "not_in" {
			e.writef("%s NOT IN (", expr)
		} else {
			e.writef("%s IN (", expr)
		}
		for i, v := range values {
			if i > 0 {
				e.write(", ")
			}
			e.write(e.arg(v))
		}
		e.write(")")
	case "exists":
		want, ok := c.Value.(bool)
		if !ok {
			return fmt.Errorf("%w: exists needs a boolean value", ErrInvalidTree)
		}
		if want {
			e.writef("%s IS NOT NULL", lhs)
		} else {
			e.writef("%s IS NULL", lhs)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOperator, c.Operator)
	}
	return nil
}
