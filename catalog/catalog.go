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

// Package catalog is the whitelist of everything the screener may touch:
// field names, their database bindings, the operators legal for each kind,
// and the formulas behind derived metrics. It is loaded once at process
// start and read-only afterwards.
package catalog

import (
	"strings"
	"unicode"
)

// Kind classifies a field's value space.
type Kind int

const (
	Numeric Kind = iota
	Percentage
	Fraction
	String
	Date
	Boolean
)

// Scale describes how percent-like values are stored. FractionScale means
// the column stores 0..1 for 0..100%.
type Scale int

const (
	UnitScale Scale = iota
	FractionScale
)

// Formula is the fixed shape of a derived metric: numerator over a
// NULLIF-guarded denominator, optionally scaled. Both operands must be
// non-derived catalog fields.
type Formula struct {
	Numerator   string
	Denominator string
	Multiplier  float64 // 0 means 1
	// NonNegative marks ratios whose guarded SQL form can never yield a
	// negative value; the validator uses it for compile-time safety checks.
	NonNegative bool
}

// Field describes one screenable attribute.
type Field struct {
	Name        string
	Kind        Kind
	Table       string // empty for derived fields
	Column      string
	Derived     *Formula
	TimeSeries  bool
	Operators   []string
	Min         *float64
	Max         *float64
	Scale       Scale
	Aliases     []string
	GrowthField string // sibling resolved for "increasing <field>" phrases
	Sortable    bool
	Display     bool // included in the result projection
}

// Catalog is the process-wide field registry.
type Catalog struct {
	fields  []*Field
	byName  map[string]*Field
	byAlias map[string]*Field
}

// New builds a catalog from a field list. Field order is preserved; the
// compiler depends on it for deterministic projections.
func New(fields []*Field) *Catalog {
	c := &Catalog{
		fields:  fields,
		byName:  make(map[string]*Field, len(fields)),
		byAlias: make(map[string]*Field),
	}
	for _, f := range fields {
		c.byName[f.Name] = f
		for _, alias := range f.Aliases {
			c.byAlias[normalizePhrase(alias)] = f
		}
	}
	return c
}

// Resolve returns the field with the given canonical name, or nil.
func (c *Catalog) Resolve(name string) *Field {
	return c.byName[name]
}

// ResolveAlias maps a free-form phrase to a field. Exact alias and
// canonical-name lookups run first; otherwise the longest alias that is a
// substring of the phrase wins.
func (c *Catalog) ResolveAlias(phrase string) *Field {
	p := normalizePhrase(phrase)
	if p == "" {
		return nil
	}
	if f, ok := c.byAlias[p]; ok {
		return f
	}
	if f, ok := c.byName[strings.ReplaceAll(p, " ", "_")]; ok {
		return f
	}
	// Longest-substring fallback walks fields in declaration order so ties
	// resolve deterministically.
	var best *Field
	bestLen := 0
	for _, f := range c.fields {
		for _, raw := range f.Aliases {
			alias := normalizePhrase(raw)
			if len(alias) > bestLen && strings.Contains(p, alias) {
				best = f
				bestLen = len(alias)
			}
		}
	}
	return best
}

// Allows reports whether op is legal for the field.
func (c *Catalog) Allows(field *Field, op string) bool {
	for _, allowed := range field.Operators {
		if allowed == op {
			return true
		}
	}
	return false
}

// DerivedFormula returns the expansion formula for a derived field, or nil
// for plain column-backed fields.
func (c *Catalog) DerivedFormula(field *Field) *Formula {
	return field.Derived
}

// Fields returns the catalog entries in declaration order.
func (c *Catalog) Fields() []*Field {
	return c.fields
}

func normalizePhrase(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case r == '_' || r == ' ' || r == '-' || r == '/':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
