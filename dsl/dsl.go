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

// Package dsl defines the rule tree that screens are expressed in. The
// tree is produced by the translator or received as JSON at the API
// boundary, normalized by the validator, and consumed by the compiler.
package dsl

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrNotObject     = errors.New("dsl: query must be a JSON object")
	ErrMissingFilter = errors.New("dsl: query must contain a filter")
)

// Period type names.
const (
	LastNQuarters      = "last_n_quarters"
	LastNYears         = "last_n_years"
	Trailing12Months   = "trailing_12_months"
	QuarterOverQuarter = "quarter_over_quarter"
	YearOverYear       = "year_over_year"
)

// Aggregation names.
const (
	AggAll    = "all"
	AggAny    = "any"
	AggAvg    = "avg"
	AggSum    = "sum"
	AggMin    = "min"
	AggMax    = "max"
	AggTrend  = "trend"
	AggLatest = "latest"
)

// Period scopes a condition to a window of historical rows.
type Period struct {
	Type        string `json:"type"`
	N           int    `json:"n"`
	Aggregation string `json:"aggregation"`
}

// NullHandling selects how a null column value affects a condition.
type NullHandling struct {
	Strategy     string      `json:"strategy"`
	DefaultValue interface{} `json:"default_value,omitempty"`
}

// TrendConfig tunes trend aggregation; evaluated host-side.
type TrendConfig struct {
	Direction   string `json:"direction,omitempty"`
	MinPeriods  int    `json:"min_periods,omitempty"`
	Consecutive bool   `json:"consecutive,omitempty"`
}

// Cond is a leaf condition on a single field.
type Cond struct {
	Field        string        `json:"field"`
	Operator     string        `json:"operator"`
	Value        interface{}   `json:"value,omitempty"`
	ValueIsField bool          `json:"value_is_field,omitempty"`
	Period       *Period       `json:"period,omitempty"`
	NullHandling *NullHandling `json:"null_handling,omitempty"`
	TrendConfig  *TrendConfig  `json:"trend_config,omitempty"`
}

// Node is the tagged variant And | Or | Not | Cond. Exactly one member is
// set on a well-formed node; the validator rejects everything else.
type Node struct {
	And  []Node `json:"and,omitempty"`
	Or   []Node `json:"or,omitempty"`
	Not  *Node  `json:"not,omitempty"`
	Cond *Cond  `json:"-"`
}

// Sort orders the result set.
type Sort struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// Rule is a complete screen.
type Rule struct {
	Meta   map[string]interface{} `json:"meta,omitempty"`
	Filter Node                   `json:"filter"`
	Sort   *Sort                  `json:"sort,omitempty"`
	Limit  int                    `json:"limit,omitempty"`

	// UnknownKeys records unrecognized top-level JSON keys for the
	// validator to report.
	UnknownKeys []string `json:"-"`
}

// nodeJSON mirrors Node for (de)serialization; condition fields live
// alongside the logical members in the wire format.
type nodeJSON struct {
	And []json.RawMessage `json:"and,omitempty"`
	Or  []json.RawMessage `json:"or,omitempty"`
	Not json.RawMessage   `json:"not,omitempty"`

	Field        string        `json:"field,omitempty"`
	Operator     string        `json:"operator,omitempty"`
	Value        interface{}   `json:"value,omitempty"`
	ValueIsField bool          `json:"value_is_field,omitempty"`
	Period       *Period       `json:"period,omitempty"`
	Timeframe    *Period       `json:"timeframe,omitempty"` // legacy spelling
	NullHandling *NullHandling `json:"null_handling,omitempty"`
	TrendConfig  *TrendConfig  `json:"trend_config,omitempty"`
}

// UnmarshalJSON decodes a node, accepting both logical nodes and bare
// conditions. The legacy `timeframe` key is carried into Period so the
// validator can normalize it.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = Node{}
	for _, child := range raw.And {
		var cn Node
		if err := cn.UnmarshalJSON(child); err != nil {
			return err
		}
		n.And = append(n.And, cn)
	}
	for _, child := range raw.Or {
		var cn Node
		if err := cn.UnmarshalJSON(child); err != nil {
			return err
		}
		n.Or = append(n.Or, cn)
	}
	if len(raw.Not) > 0 {
		var cn Node
		if err := cn.UnmarshalJSON(raw.Not); err != nil {
			return err
		}
		n.Not = &cn
	}
	if raw.Field != "" || raw.Operator != "" {
		period := raw.Period
		if period == nil {
			period = raw.Timeframe
		}
		n.Cond = &Cond{
			Field:        raw.Field,
			Operator:     raw.Operator,
			Value:        raw.Value,
			ValueIsField: raw.ValueIsField,
			Period:       period,
			NullHandling: raw.NullHandling,
			TrendConfig:  raw.TrendConfig,
		}
	}
	return nil
}

// MarshalJSON encodes the node back into the wire format.
func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{})
	switch {
	case len(n.And) > 0:
		out["and"] = n.And
	case len(n.Or) > 0:
		out["or"] = n.Or
	case n.Not != nil:
		out["not"] = n.Not
	case n.Cond != nil:
		out["field"] = n.Cond.Field
		out["operator"] = n.Cond.Operator
		if n.Cond.Value != nil {
			out["value"] = n.Cond.Value
		}
		if n.Cond.ValueIsField {
			out["value_is_field"] = true
		}
		if n.Cond.Period != nil {
			out["period"] = n.Cond.Period
		}
		if n.Cond.NullHandling != nil {
			out["null_handling"] = n.Cond.NullHandling
		}
		if n.Cond.TrendConfig != nil {
			out["trend_config"] = n.Cond.TrendConfig
		}
	}
	return json.Marshal(out)
}

// IsEmpty reports whether the node carries no logic at all (the
// degenerate `{filter: {}}` tree).
func (n *Node) IsEmpty() bool {
	return len(n.And) == 0 && len(n.Or) == 0 && n.Not == nil && n.Cond == nil
}

// Depth returns the nesting depth of logical operators under n. A bare
// condition has depth zero.
func (n *Node) Depth() int {
	max := 0
	children := n.And
	if len(n.Or) > 0 {
		children = n.Or
	}
	for i := range children {
		if d := children[i].Depth(); d > max {
			max = d
		}
	}
	if n.Not != nil {
		if d := n.Not.Depth(); d > max {
			max = d
		}
	}
	if len(n.And) > 0 || len(n.Or) > 0 || n.Not != nil {
		return max + 1
	}
	return 0
}

// ParseRule decodes a complete rule from JSON, recording unknown
// top-level keys rather than failing on them.
func ParseRule(data []byte) (*Rule, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotObject, err)
	}
	var rule Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, err
	}
	known := map[string]bool{"meta": true, "filter": true, "sort": true, "limit": true}
	for k := range probe {
		if !known[k] {
			rule.UnknownKeys = append(rule.UnknownKeys, k)
		}
	}
	sort.Strings(rule.UnknownKeys)
	if _, ok := probe["filter"]; !ok {
		return &rule, ErrMissingFilter
	}
	return &rule, nil
}

// Fingerprint returns a stable textual form of the rule used as the
// compiled-query cache key. Two rules with identical normalized content
// produce identical fingerprints.
func (r *Rule) Fingerprint() string {
	var b strings.Builder
	writeNode(&b, &r.Filter)
	if r.Sort != nil {
		fmt.Fprintf(&b, "|sort:%s:%s", r.Sort.Field, r.Sort.Order)
	}
	fmt.Fprintf(&b, "|limit:%d", r.Limit)
	return b.String()
}

func writeNode(b *strings.Builder, n *Node) {
	switch {
	case len(n.And) > 0:
		b.WriteString("and(")
		for i := range n.And {
			if i > 0 {
				b.WriteByte(',')
			}
			writeNode(b, &n.And[i])
		}
		b.WriteByte(')')
	case len(n.Or) > 0:
		b.WriteString("or(")
		for i := range n.Or {
			if i > 0 {
				b.WriteByte(',')
			}
			writeNode(b, &n.Or[i])
		}
		b.WriteByte(')')
	case n.Not != nil:
		b.WriteString("not(")
		writeNode(b, n.Not)
		b.WriteByte(')')
	case n.Cond != nil:
		c := n.Cond
		fmt.Fprintf(b, "%s %s %v", c.Field, c.Operator, c.Value)
		if c.ValueIsField {
			b.WriteString(" [field]")
		}
		if c.Period != nil {
			fmt.Fprintf(b, " over %s n=%d agg=%s", c.Period.Type, c.Period.N, c.Period.Aggregation)
		}
		if c.NullHandling != nil {
			fmt.Fprintf(b, " nulls=%s", c.NullHandling.Strategy)
		}
	}
}
