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

// Package validator decides whether a DSL tree may execute. It collects
// every error in one pass, normalizes the tree in place (alias
// resolution, unit rescaling, legacy spellings), and returns structured
// issues the API can surface directly.
package validator

import (
	"fmt"
	"strings"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/dsl"
	"github.com/spf13/viper"
)

// Issue kinds; ascending severity mirrors the error taxonomy of the API.
const (
	KindAmbiguity        = "ambiguity"
	KindRuleValidity     = "rule_validity"
	KindLogicalConflict  = "logical_conflict"
	KindDataAvailability = "data_availability"
	KindMetricSafety     = "metric_safety"
	KindNotImplemented   = "not_implemented"
)

// Issue is one validation finding addressed by a dotted path into the
// rule, e.g. `filter.and[1].operator`.
type Issue struct {
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Result carries the normalized rule when valid, plus all issues found.
type Result struct {
	Rule     *dsl.Rule
	Errors   []Issue
	Warnings []Issue
}

// Valid reports whether execution may proceed.
func (r *Result) Valid() bool { return len(r.Errors) == 0 }

// Validator checks and normalizes rules against a field catalog.
type Validator struct {
	cat          *catalog.Catalog
	maxDepth     int
	defaultLimit int
	maxLimit     int
}

// New creates a validator bound to the catalog. Depth and limit caps come
// from configuration with the documented defaults.
func New(cat *catalog.Catalog) *Validator {
	maxDepth := viper.GetInt("compiler.max_nesting_depth")
	if maxDepth == 0 {
		maxDepth = 5
	}
	defaultLimit := viper.GetInt("compiler.default_limit")
	if defaultLimit == 0 {
		defaultLimit = 100
	}
	return &Validator{cat: cat, maxDepth: maxDepth, defaultLimit: defaultLimit, maxLimit: 1000}
}

var periodTypes = map[string]bool{
	dsl.LastNQuarters:      true,
	dsl.LastNYears:         true,
	dsl.Trailing12Months:   true,
	dsl.QuarterOverQuarter: true,
	dsl.YearOverYear:       true,
}

var aggregations = map[string]bool{
	dsl.AggAll: true, dsl.AggAny: true, dsl.AggAvg: true, dsl.AggSum: true,
	dsl.AggMin: true, dsl.AggMax: true, dsl.AggTrend: true, dsl.AggLatest: true,
}

// legacyOperators maps accepted alternate spellings to canonical ones.
var legacyOperators = map[string]string{
	"above": ">",
	"below": "<",
	"==":    "=",
	"<>":    "!=",
}

// Validate runs all check phases over the rule. The rule is mutated in
// place during normalization; on error the rule must be discarded.
func (v *Validator) Validate(rule *dsl.Rule) *Result {
	res := &Result{Rule: rule}

	// Structural checks that apply to the whole rule.
	for _, k := range rule.UnknownKeys {
		res.err(k, KindRuleValidity,
			fmt.Sprintf("unknown top-level key %q", k),
			"remove the key or check its spelling")
	}
	if depth := rule.Filter.Depth(); depth > v.maxDepth {
		res.err("filter", KindRuleValidity,
			fmt.Sprintf("filter nesting depth %d exceeds maximum %d", depth, v.maxDepth), "")
	}

	v.walk(&rule.Filter, "filter", res)
	v.checkConflicts(&rule.Filter, "filter", res)
	v.checkMeta(rule, res)
	return res
}

// walk validates a node and its children, normalizing conditions as it
// goes. Structure errors on a node stop deeper checks for that node only.
func (v *Validator) walk(n *dsl.Node, path string, res *Result) {
	set := 0
	if len(n.And) > 0 {
		set++
	}
	if len(n.Or) > 0 {
		set++
	}
	if n.Not != nil {
		set++
	}
	if n.Cond != nil {
		set++
	}
	switch {
	case set == 0:
		// The degenerate empty filter is legal at the root; anywhere else an
		// empty node means an empty and/or array slipped through.
		if path != "filter" {
			res.err(path, KindRuleValidity, "empty filter node", "")
		}
		return
	case set > 1:
		res.err(path, KindRuleValidity,
			"node must contain exactly one of and, or, not, or a condition", "")
		return
	}

	switch {
	case len(n.And) > 0:
		for i := range n.And {
			v.walk(&n.And[i], fmt.Sprintf("%s.and[%d]", path, i), res)
		}
	case len(n.Or) > 0:
		for i := range n.Or {
			v.walk(&n.Or[i], fmt.Sprintf("%s.or[%d]", path, i), res)
		}
	case n.Not != nil:
		v.walk(n.Not, path+".not", res)
	case n.Cond != nil:
		v.checkCond(n.Cond, path, res)
	}
}

func (v *Validator) checkCond(c *dsl.Cond, path string, res *Result) {
	if c.Field == "" {
		res.err(path, KindRuleValidity, "condition missing field", "")
		return
	}
	if c.Operator == "" {
		res.err(path+".operator", KindRuleValidity,
			fmt.Sprintf("condition on %q missing operator", c.Field), "")
		return
	}

	// Field validity and alias normalization.
	field := v.cat.Resolve(c.Field)
	if field == nil {
		field = v.cat.ResolveAlias(c.Field)
		if field == nil {
			res.err(path+".field", KindRuleValidity,
				fmt.Sprintf("unknown field %q", c.Field), "check the field catalog")
			return
		}
		c.Field = field.Name
	}

	// Operator normalization and validity.
	if canonical, ok := legacyOperators[c.Operator]; ok {
		c.Operator = canonical
	}
	if !v.cat.Allows(field, c.Operator) {
		res.err(path+".operator", KindRuleValidity,
			fmt.Sprintf("operator %q is not allowed for field %q", c.Operator, c.Field), "")
		return
	}

	v.checkValue(c, field, path, res)
	v.checkPeriod(c, field, path, res)
	v.checkDerivedSafety(c, field, path, res)
}

func (v *Validator) checkValue(c *dsl.Cond, field *catalog.Field, path string, res *Result) {
	if c.ValueIsField {
		name, ok := c.Value.(string)
		if !ok {
			res.err(path+".value", KindRuleValidity,
				"value_is_field requires value to be a field name", "")
			return
		}
		rhs := v.cat.Resolve(name)
		if rhs == nil {
			rhs = v.cat.ResolveAlias(name)
		}
		if rhs == nil {
			res.err(path+".value", KindRuleValidity,
				fmt.Sprintf("cross-field value %q is not a catalog field", name), "")
			return
		}
		if !compatibleKinds(field.Kind, rhs.Kind) {
			res.err(path+".value", KindRuleValidity,
				fmt.Sprintf("cannot compare %q (%s) with %q (%s)",
					c.Field, kindName(field.Kind), rhs.Name, kindName(rhs.Kind)), "")
			return
		}
		c.Value = rhs.Name
		return
	}

	switch c.Operator {
	case "between":
		pair, ok := toFloatSlice(c.Value)
		if !ok || len(pair) != 2 {
			res.err(path+".value", KindRuleValidity,
				"between requires an array of exactly two numbers [min, max]", "")
			return
		}
		if pair[0] >= pair[1] {
			res.err(path+".value", KindLogicalConflict,
				fmt.Sprintf("between range invalid: min (%v) >= max (%v)", pair[0], pair[1]),
				"ensure min < max")
			return
		}
		pair[0] = rescale(field, pair[0])
		pair[1] = rescale(field, pair[1])
		c.Value = []interface{}{pair[0], pair[1]}
	case "in", "not_in":
		arr, ok := c.Value.([]interface{})
		if !ok || len(arr) == 0 {
			res.err(path+".value", KindRuleValidity,
				fmt.Sprintf("%s requires a non-empty array", c.Operator), "")
			return
		}
		for i, elem := range arr {
			if !valueMatchesKind(elem, field.Kind) {
				res.err(fmt.Sprintf("%s.value[%d]", path, i), KindRuleValidity,
					fmt.Sprintf("element %v does not match field kind %s", elem, kindName(field.Kind)), "")
				return
			}
		}
	case "exists":
		if _, ok := c.Value.(bool); !ok {
			res.err(path+".value", KindRuleValidity, "exists requires a boolean value", "")
		}
	case "increasing", "decreasing", "stable":
		// Trend operators take no literal value.
	default:
		if c.Value == nil {
			res.err(path+".value", KindRuleValidity,
				fmt.Sprintf("operator %q requires a value", c.Operator), "")
			return
		}
		if !valueMatchesKind(c.Value, field.Kind) {
			res.err(path+".value", KindRuleValidity,
				fmt.Sprintf("value %v does not match field kind %s", c.Value, kindName(field.Kind)), "")
			return
		}
		if num, ok := toFloat(c.Value); ok {
			num = rescale(field, num)
			c.Value = num
			v.checkRange(field, num, path, res)
		}
	}
}

// rescale divides percent-style literals on fraction-scaled fields. A
// value of 15 against a 0..1 column means 15%.
func rescale(field *catalog.Field, v float64) float64 {
	if field.Scale == catalog.FractionScale && (v > 1 || v < -1) {
		return v / 100
	}
	return v
}

func (v *Validator) checkRange(field *catalog.Field, num float64, path string, res *Result) {
	if field.Min != nil && num < *field.Min {
		if field.Kind != catalog.String && *field.Min == 0 && num < 0 {
			// Negative literal against a non-negative field can never match.
			res.err(path+".value", KindLogicalConflict,
				fmt.Sprintf("field %q cannot be negative, got %v", field.Name, num), "")
			return
		}
		res.warn(path+".value", KindRuleValidity,
			fmt.Sprintf("value %v below typical minimum %v for %q", num, *field.Min, field.Name),
			"verify this is intentional")
	}
	if field.Max != nil && num > *field.Max {
		res.warn(path+".value", KindRuleValidity,
			fmt.Sprintf("value %v above typical maximum %v for %q", num, *field.Max, field.Name),
			"verify this is intentional")
	}
}

func (v *Validator) checkPeriod(c *dsl.Cond, field *catalog.Field, path string, res *Result) {
	if c.Period == nil {
		if field.TimeSeries && isComparison(c.Operator) {
			res.warn(path, KindAmbiguity,
				fmt.Sprintf("time-series field %q used without a period; the latest value will be compared", c.Field),
				"add a period for historical analysis")
		}
		return
	}
	p := c.Period
	if !field.TimeSeries {
		res.err(path+".period", KindDataAvailability,
			fmt.Sprintf("field %q does not support time-series queries", c.Field),
			"remove the period or use a time-series field")
		return
	}
	if !periodTypes[p.Type] {
		res.err(path+".period.type", KindRuleValidity,
			fmt.Sprintf("unknown period type %q", p.Type), "")
	}
	if p.N < 1 || p.N > 20 {
		res.err(path+".period.n", KindRuleValidity,
			fmt.Sprintf("period n must be between 1 and 20, got %d", p.N), "")
	}
	if p.Aggregation == "" {
		p.Aggregation = dsl.AggAll
	}
	if !aggregations[p.Aggregation] {
		res.err(path+".period.aggregation", KindRuleValidity,
			fmt.Sprintf("unknown aggregation %q", p.Aggregation), "")
	}
	if p.Aggregation == dsl.AggTrend && c.TrendConfig == nil {
		res.warn(path+".period.aggregation", KindAmbiguity,
			"trend aggregation without trend_config uses defaults", "add trend_config for explicit control")
	}
	if p.N > 12 {
		res.warn(path+".period.n", KindDataAvailability,
			fmt.Sprintf("requesting %d periods may exceed available history and shrink the result set", p.N), "")
	}
	if c.NullHandling != nil && c.NullHandling.Strategy == "interpolate" {
		res.err(path+".null_handling.strategy", KindNotImplemented,
			"null handling strategy interpolate is not implemented", "")
	}
}

// checkDerivedSafety verifies derived-metric guard requirements and the
// pure-literal cases that are provably unsatisfiable at compile time.
func (v *Validator) checkDerivedSafety(c *dsl.Cond, field *catalog.Field, path string, res *Result) {
	formula := v.cat.DerivedFormula(field)
	if formula == nil {
		return
	}
	den := v.cat.Resolve(formula.Denominator)
	num := v.cat.Resolve(formula.Numerator)
	if den == nil || den.Derived != nil || num == nil || num.Derived != nil {
		res.err(path+".field", KindMetricSafety,
			fmt.Sprintf("derived metric %q has an invalid formula definition", field.Name), "")
		return
	}
	if formula.NonNegative {
		if lit, ok := toFloat(c.Value); ok && lit < 0 &&
			(c.Operator == "<" || c.Operator == "<=" || c.Operator == "=") {
			res.err(path+".value", KindMetricSafety,
				fmt.Sprintf("derived metric %q is never negative; condition cannot match", field.Name), "")
		}
	}
}

func (v *Validator) checkMeta(rule *dsl.Rule, res *Result) {
	if rule.Limit == 0 {
		rule.Limit = v.defaultLimit
	}
	if rule.Limit < 1 || rule.Limit > v.maxLimit {
		res.err("limit", KindRuleValidity,
			fmt.Sprintf("limit must be between 1 and %d, got %d", v.maxLimit, rule.Limit), "")
	}
	if rule.Sort != nil {
		field := v.cat.Resolve(rule.Sort.Field)
		if field == nil {
			field = v.cat.ResolveAlias(rule.Sort.Field)
		}
		if field == nil {
			res.err("sort.field", KindRuleValidity,
				fmt.Sprintf("unknown sort field %q", rule.Sort.Field), "")
			return
		}
		if !field.Sortable {
			res.err("sort.field", KindRuleValidity,
				fmt.Sprintf("field %q is not sortable", field.Name), "")
			return
		}
		rule.Sort.Field = field.Name
		switch strings.ToLower(rule.Sort.Order) {
		case "", "asc", "ascending":
			rule.Sort.Order = "asc"
		case "desc", "descending":
			rule.Sort.Order = "desc"
		default:
			res.err("sort.order", KindRuleValidity,
				fmt.Sprintf("sort order must be asc or desc, got %q", rule.Sort.Order), "")
		}
	}
}

func (r *Result) err(path, kind, msg, suggestion string) {
	r.Errors = append(r.Errors, Issue{Path: path, Kind: kind, Message: msg, Suggestion: suggestion})
}

func (r *Result) warn(path, kind, msg, suggestion string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Kind: kind, Message: msg, Suggestion: suggestion})
}

func isComparison(op string) bool {
	switch op {
	case "<", ">", "<=", ">=", "=", "!=":
		return true
	}
	return false
}

func compatibleKinds(a, b catalog.Kind) bool {
	numeric := func(k catalog.Kind) bool {
		return k == catalog.Numeric || k == catalog.Percentage || k == catalog.Fraction
	}
	if numeric(a) && numeric(b) {
		return true
	}
	return a == b
}

func kindName(k catalog.Kind) string {
	switch k {
	case catalog.Numeric:
		return "numeric"
	case catalog.Percentage:
		return "percentage"
	case catalog.Fraction:
		return "fraction"
	case catalog.String:
		return "string"
	case catalog.Date:
		return "date"
	case catalog.Boolean:
		return "boolean"
	}
	return "unknown"
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toFloatSlice(v interface{}) ([]float64, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(arr))
	for _, elem := range arr {
		f, ok := toFloat(elem)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

func valueMatchesKind(v interface{}, k catalog.Kind) bool {
	switch k {
	case catalog.Numeric, catalog.Percentage, catalog.Fraction:
		_, ok := toFloat(v)
		return ok
	case catalog.String, catalog.Date:
		_, ok := v.(string)
		return ok
	case catalog.Boolean:
		_, ok := v.(bool)
		return ok
	}
	return false
}
