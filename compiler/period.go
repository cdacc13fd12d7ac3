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

// invertedOp maps each comparison operator to its logical negation, used
// by the `all` aggregation: "every row satisfies OP" becomes "no row
// satisfies the inverse".
var invertedOp = map[string]string{
	">":  "<=",
	"<":  ">=",
	">=": "<",
	"<=": ">",
	"=":  "!=",
	"!=": "=",
}

// periodRowCount converts a period spec into the number of trailing rows
// to window over. History tables are quarterly, so years multiply by
// four; year_over_year spans five quarters to reach the same quarter one
// year back.
func periodRowCount(p *dsl.Period) (int, error) {
	switch p.Type {
	case dsl.LastNQuarters:
		return p.N, nil
	case dsl.LastNYears:
		return 4 * p.N, nil
	case dsl.Trailing12Months:
		return 4, nil
	case dsl.QuarterOverQuarter:
		return 2, nil
	case dsl.YearOverYear:
		return 5, nil
	}
	return 0, fmt.Errorf("%w: period type %q", ErrInvalidTree, p.Type)
}

// windowSQL emits the last-N-rows subquery for one column: non-null
// values for the instrument in reverse chronological order, row budget
// bound as a placeholder.
func windowSQL(e *emitter, field *catalog.Field, rows int) string {
	info := tables[field.Table]
	return fmt.Sprintf("(SELECT t.%s AS v FROM %s t WHERE t.%s = c.ticker AND t.%s IS NOT NULL ORDER BY t.%s LIMIT %s)",
		field.Column, info.name, info.key, field.Column, info.order, e.arg(rows))
}

// compilePeriod emits the correlated subquery for a period-scoped
// condition. `all` quantifies via NOT EXISTS on the inverted operator, so
// instruments with fewer than N non-null rows still pass when every row
// they do have satisfies the condition.
func (cp *Compiler) compilePeriod(e *emitter, c *dsl.Cond, field *catalog.Field) error {
	rows, err := periodRowCount(c.Period)
	if err != nil {
		return err
	}
	if _, ok := invertedOp[c.Operator]; !ok {
		return fmt.Errorf("%w: %s inside a period", ErrUnknownOperator, c.Operator)
	}

	switch c.Period.Aggregation {
	case dsl.AggAll:
		e.writef("NOT EXISTS (SELECT 1 FROM %s w WHERE w.v %s %s)",
			windowSQL(e, field, rows), invertedOp[c.Operator], e.arg(c.Value))
	case dsl.AggAny:
		e.writef("EXISTS (SELECT 1 FROM %s w WHERE w.v %s %s)",
			windowSQL(e, field, rows), c.Operator, e.arg(c.Value))
	case dsl.AggAvg, dsl.AggSum, dsl.AggMin, dsl.AggMax:
		agg := map[string]string{
			dsl.AggAvg: "AVG",
			dsl.AggSum: "SUM",
			dsl.AggMin: "MIN",
			dsl.AggMax: "MAX",
		}[c.Period.Aggregation]
		e.writef("(SELECT %s(w.v) FROM %s w) %s %s",
			agg, windowSQL(e, field, rows), c.Operator, e.arg(c.Value))
	case dsl.AggLatest:
		e.writef("%s %s %s", latestNonNull(field), c.Operator, e.arg(c.Value))
	default:
		return fmt.Errorf("%w: aggregation %q", ErrInvalidTree, c.Period.Aggregation)
	}
	return nil
}
