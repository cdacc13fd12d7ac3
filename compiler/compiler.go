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

// Package compiler turns a validated, normalized DSL tree into a
// parameterized SQL statement. Every identifier comes from the static
// table registry or the field catalog; every user value becomes a
// numbered placeholder. Compilation is pure and deterministic: the same
// normalized tree always yields byte-identical SQL and params.
package compiler

import (
	"errors"
	"fmt"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/dsl"
	"github.com/spf13/viper"
)

var (
	ErrUnknownField    = errors.New("compiler: field not in catalog")
	ErrUnknownTable    = errors.New("compiler: table not in registry")
	ErrUnknownOperator = errors.New("compiler: operator not compilable")
	ErrNotImplemented  = errors.New("compiler: feature not implemented")
	ErrInvalidTree     = errors.New("compiler: malformed dsl tree")
)

// tableInfo binds a logical table to its fixed alias, instrument join
// key, and monotonic ordering. The set is closed; rank fixes join order.
type tableInfo struct {
	name  string
	alias string
	key   string
	order string
	rank  int
}

var tables = map[string]tableInfo{
	catalog.TableCompanies:        {name: catalog.TableCompanies, alias: "c", key: "ticker", rank: 0},
	catalog.TableFundamentals:     {name: catalog.TableFundamentals, alias: "fq", key: "ticker", order: "id DESC", rank: 1},
	catalog.TablePriceHistory:     {name: catalog.TablePriceHistory, alias: "ph", key: "ticker", order: "time DESC", rank: 2},
	catalog.TableDebtProfile:      {name: catalog.TableDebtProfile, alias: "dp", key: "ticker", order: "id DESC", rank: 3},
	catalog.TableCashFlow:         {name: catalog.TableCashFlow, alias: "cf", key: "ticker", order: "id DESC", rank: 4},
	catalog.TableAnalystEstimates: {name: catalog.TableAnalystEstimates, alias: "ae", key: "ticker", order: "estimate_date DESC", rank: 5},
}

var tableRankOrder = []string{
	catalog.TableCompanies,
	catalog.TableFundamentals,
	catalog.TablePriceHistory,
	catalog.TableDebtProfile,
	catalog.TableCashFlow,
	catalog.TableAnalystEstimates,
}

// Metadata describes traits of the compiled statement the runner needs.
type Metadata struct {
	UsesTimeSeries     bool
	UsesDerivedMetrics bool
	// TrendConditions are evaluated host-side after the SQL result set is
	// fetched; the compiled predicate treats them as satisfied.
	TrendConditions []dsl.Cond
}

// Compiled is the output of one compilation.
type Compiled struct {
	SQL      string
	Params   []interface{}
	Tables   []string
	Metadata Metadata
}

// Compiler compiles rules against one catalog. Each Compile call
// allocates a fresh emitter; the compiler itself is stateless and safe
// for concurrent use.
type Compiler struct {
	cat          *catalog.Catalog
	defaultLimit int
}

// New creates a compiler bound to the catalog.
func New(cat *catalog.Catalog) *Compiler {
	defaultLimit := viper.GetInt("compiler.default_limit")
	if defaultLimit == 0 {
		defaultLimit = 100
	}
	return &Compiler{cat: cat, defaultLimit: defaultLimit}
}

// Compile emits the full screener statement for a validated rule.
func (cp *Compiler) Compile(rule *dsl.Rule) (*Compiled, error) {
	return cp.compile(rule, "")
}

// CompileForTicker narrows the screen to a single instrument; used by the
// alert evaluator for custom_dsl subscriptions.
func (cp *Compiler) CompileForTicker(rule *dsl.Rule, ticker string) (*Compiled, error) {
	if ticker == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrInvalidTree)
	}
	return cp.compile(rule, ticker)
}

func (cp *Compiler) compile(rule *dsl.Rule, ticker string) (*Compiled, error) {
	required, err := cp.requiredTables(rule)
	if err != nil {
		return nil, err
	}

	e := newEmitter()
	meta := &Metadata{}

	cp.writeProjection(e, required)
	cp.writeJoins(e, required)

	e.write("\nWHERE ")
	if rule.Filter.IsEmpty() {
		e.write("1=1")
	} else {
		if err := cp.compileNode(e, &rule.Filter, meta); err != nil {
			return nil, err
		}
	}
	if ticker != "" {
		e.writef(" AND c.ticker = %s", e.arg(ticker))
	}

	cp.writeOrderBy(e, rule)

	limit := rule.Limit
	if limit == 0 {
		limit = cp.defaultLimit
	}
	e.writef("\nLIMIT %s", e.arg(limit))

	names := make([]string, 0, len(required))
	for _, name := range tableRankOrder {
		if required[name] {
			names = append(names, name)
		}
	}
	return &Compiled{SQL: e.sql(), Params: e.params, Tables: names, Metadata: *meta}, nil
}

// requiredTables walks the rule and collects every table the predicate,
// sort, or projection touches. Companies and fundamentals are always
// present: companies anchors the join graph and fundamentals backs the
// display projection.
func (cp *Compiler) requiredTables(rule *dsl.Rule) (map[string]bool, error) {
	required := map[string]bool{
		catalog.TableCompanies:    true,
		catalog.TableFundamentals: true,
	}
	var walk func(n *dsl.Node) error
	walk = func(n *dsl.Node) error {
		for i := range n.And {
			if err := walk(&n.And[i]); err != nil {
				return err
			}
		}
		for i := range n.Or {
			if err := walk(&n.Or[i]); err != nil {
				return err
			}
		}
		if n.Not != nil {
			if err := walk(n.Not); err != nil {
				return err
			}
		}
		if n.Cond == nil {
			return nil
		}
		if err := cp.markCondTables(n.Cond, required); err != nil {
			return err
		}
		return nil
	}
	if err := walk(&rule.Filter); err != nil {
		return nil, err
	}
	if rule.Sort != nil {
		field := cp.cat.Resolve(rule.Sort.Field)
		if field == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, rule.Sort.Field)
		}
		if field.Table != "" {
			required[field.Table] = true
		}
	}
	return required, nil
}

func (cp *Compiler) markCondTables(c *dsl.Cond, required map[string]bool) error {
	field := cp.cat.Resolve(c.Field)
	if field == nil {
		return fmt.Errorf("%w: %s", ErrUnknownField, c.Field)
	}
	if formula := field.Derived; formula != nil {
		for _, name := range []string{formula.Numerator, formula.Denominator} {
			operand := cp.cat.Resolve(name)
			if operand == nil || operand.Table == "" {
				return fmt.Errorf("%w: derived operand %s", ErrUnknownField, name)
			}
			required[operand.Table] = true
		}
	} else {
		if _, ok := tables[field.Table]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTable, field.Table)
		}
		required[field.Table] = true
	}
	if c.ValueIsField {
		name, _ := c.Value.(string)
		rhs := cp.cat.Resolve(name)
		if rhs == nil || rhs.Table == "" {
			return fmt.Errorf("%w: cross-field %s", ErrUnknownField, name)
		}
		required[rhs.Table] = true
	}
	return nil
}

// writeProjection emits the fixed identity columns plus one column per
// display metric whose table is joined. Fundamentals columns read through
// a latest-non-null fallback because the absolute-latest row is often
// sparse.
func (cp *Compiler) writeProjection(e *emitter, required map[string]bool) {
	e.write("SELECT DISTINCT c.ticker, c.name, c.sector, c.industry, c.exchange, c.market_cap")
	for _, field := range cp.cat.Fields() {
		if !field.Display || field.Table == "" || field.Table == catalog.TableCompanies {
			continue
		}
		if !required[field.Table] {
			continue
		}
		info := tables[field.Table]
		if field.Table == catalog.TableFundamentals {
			e.writef(",\n  COALESCE(%s.%s, %s) AS %s",
				info.alias, field.Column, latestNonNull(field), field.Name)
		} else {
			e.writef(",\n  %s.%s AS %s", info.alias, field.Column, field.Name)
		}
	}
}

// writeJoins emits one LEFT JOIN LATERAL per required snapshot table,
// selecting the newest row for the instrument.
func (cp *Compiler) writeJoins(e *emitter, required map[string]bool) {
	e.writef("\nFROM %s c", catalog.TableCompanies)
	for _, name := range tableRankOrder {
		if name == catalog.TableCompanies || !required[name] {
			continue
		}
		info := tables[name]
		e.writef("\nLEFT JOIN LATERAL (SELECT * FROM %s t WHERE t.%s = c.ticker ORDER BY t.%s LIMIT 1) %s ON true",
			info.name, info.key, info.order, info.alias)
	}
}

func (cp *Compiler) writeOrderBy(e *emitter, rule *dsl.Rule) {
	if rule.Sort == nil {
		e.write("\nORDER BY c.market_cap DESC NULLS LAST")
		return
	}
	field := cp.cat.Resolve(rule.Sort.Field)
	info := tables[field.Table]
	dir := "ASC"
	if rule.Sort.Order == "desc" {
		dir = "DESC"
	}
	e.writef("\nORDER BY %s.%s %s NULLS LAST", info.alias, field.Column, dir)
}

// columnRef returns the alias-qualified column for a field's
// latest-snapshot row.
func columnRef(field *catalog.Field) string {
	return tables[field.Table].alias + "." + field.Column
}

// HistoryQuery returns a statement selecting the most recent non-null
// values of a time-series field for one instrument, newest first. $1 is
// the ticker, $2 the row budget. The runner uses it for host-side trend
// evaluation.
func HistoryQuery(cat *catalog.Catalog, fieldName string) (string, error) {
	field := cat.Resolve(fieldName)
	if field == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, fieldName)
	}
	if !field.TimeSeries || field.Table == "" {
		return "", fmt.Errorf("%w: %s has no history", ErrInvalidTree, fieldName)
	}
	info := tables[field.Table]
	return fmt.Sprintf("SELECT t.%s FROM %s t WHERE t.%s = $1 AND t.%s IS NOT NULL ORDER BY t.%s LIMIT $2",
		field.Column, info.name, info.key, field.Column, info.order), nil
}

// WindowRows converts a period into the number of trailing rows it spans
// on the quarterly history tables.
func WindowRows(p *dsl.Period) int {
	if p == nil {
		return 4
	}
	rows, err := periodRowCount(p)
	if err != nil {
		return 4
	}
	return rows
}

// latestNonNull builds the correlated subquery selecting the most recent
// non-null value of a column. Predicate truth for sparse time-series
// columns must come from this form, never from the LATERAL row.
func latestNonNull(field *catalog.Field) string {
	info := tables[field.Table]
	inner := info.alias + "2"
	return fmt.Sprintf("(SELECT %s.%s FROM %s %s WHERE %s.%s = c.ticker AND %s.%s IS NOT NULL ORDER BY %s.%s LIMIT 1)",
		inner, field.Column, info.name, inner, inner, info.key, inner, field.Column, inner, info.order)
}
