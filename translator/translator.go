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

// Package translator turns free-form screener queries into DSL trees.
// The translator is best-effort and never rejects: phrases it cannot
// place are dropped and the validator downstream decides whether what
// remains is runnable. Each extraction step strips the text it matched so
// later steps parse a cleaner residue.
package translator

import (
	"regexp"
	"strings"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/dsl"
	"github.com/rs/zerolog/log"
)

type Translator struct {
	cat *catalog.Catalog
}

func New(cat *catalog.Catalog) *Translator {
	return &Translator{cat: cat}
}

// sectorTerm maps a spoken sector phrase to the stored sector value.
// needsSuffix guards short words that collide with common English.
type sectorTerm struct {
	phrase      string
	sector      string
	needsSuffix bool
}

var sectorTerms = []sectorTerm{
	{phrase: "information technology", sector: "Information Technology"},
	{phrase: "it", sector: "Information Technology", needsSuffix: true},
	{phrase: "software", sector: "Information Technology", needsSuffix: true},
	{phrase: "pharma", sector: "Pharmaceuticals"},
	{phrase: "pharmaceutical", sector: "Pharmaceuticals"},
	{phrase: "banking", sector: "Financials"},
	{phrase: "bank", sector: "Financials", needsSuffix: true},
	{phrase: "financial", sector: "Financials", needsSuffix: true},
	{phrase: "auto", sector: "Automobile", needsSuffix: true},
	{phrase: "automobile", sector: "Automobile"},
	{phrase: "fmcg", sector: "FMCG"},
	{phrase: "consumer goods", sector: "FMCG"},
	{phrase: "energy", sector: "Energy", needsSuffix: true},
	{phrase: "oil and gas", sector: "Energy"},
	{phrase: "metal", sector: "Metals", needsSuffix: true},
	{phrase: "metals", sector: "Metals", needsSuffix: true},
	{phrase: "realty", sector: "Real Estate"},
	{phrase: "real estate", sector: "Real Estate"},
	{phrase: "telecom", sector: "Telecom"},
	{phrase: "infrastructure", sector: "Infrastructure"},
	{phrase: "infra", sector: "Infrastructure", needsSuffix: true},
	{phrase: "chemical", sector: "Chemicals", needsSuffix: true},
	{phrase: "chemicals", sector: "Chemicals", needsSuffix: true},
	{phrase: "healthcare", sector: "Healthcare"},
	{phrase: "cement", sector: "Cement", needsSuffix: true},
}

var sectorSuffixes = []string{" sector", " stocks", " companies", " shares"}

var exchangeRe = regexp.MustCompile(`\b(?:listed on |on )?(nse|bse)\b(?: listed)?`)

// Translate converts a query string into a rule. An empty or fully
// unintelligible query yields the degenerate rule with an empty filter.
func (t *Translator) Translate(query string) *dsl.Rule {
	subLog := log.With().Str("Query", query).Logger()

	q := strings.ToLower(strings.TrimSpace(query))
	rule := &dsl.Rule{}
	if q == "" {
		return rule
	}

	var conds []dsl.Node
	q = t.extractMeta(q, &conds)
	q = t.extractSortLimit(q, rule)
	q = t.extractCrossField(q, &conds)
	q = t.extractEvents(q, &conds)

	q = maskBetween(q)
	branches := splitAny(q, []string{" or "})
	if len(branches) > 1 {
		var orNodes []dsl.Node
		for _, branch := range branches {
			var bc []dsl.Node
			t.parseSegments(branch, &bc)
			switch len(bc) {
			case 0:
			case 1:
				orNodes = append(orNodes, bc[0])
			default:
				orNodes = append(orNodes, dsl.Node{And: bc})
			}
		}
		if len(orNodes) > 0 {
			conds = append(conds, dsl.Node{Or: orNodes})
		}
	} else {
		t.parseSegments(q, &conds)
	}

	if len(conds) > 0 {
		rule.Filter = dsl.Node{And: conds}
	}
	subLog.Debug().Int("NumConditions", len(conds)).Msg("translated query")
	return rule
}

// extractMeta pulls sector and exchange phrases out of the query.
func (t *Translator) extractMeta(q string, conds *[]dsl.Node) string {
	for _, term := range sectorTerms {
		idx := indexWord(q, term.phrase)
		if idx < 0 {
			continue
		}
		matched := term.phrase
		suffixed := false
		for _, suffix := range sectorSuffixes {
			if strings.HasPrefix(q[idx+len(term.phrase):], suffix) {
				matched = term.phrase + suffix
				suffixed = true
				break
			}
		}
		if term.needsSuffix && !suffixed {
			continue
		}
		*conds = append(*conds, dsl.Node{Cond: &dsl.Cond{
			Field: "sector", Operator: "=", Value: term.sector,
		}})
		q = strings.Replace(q, matched, " ", 1)
		break
	}
	if m := exchangeRe.FindStringSubmatch(q); m != nil {
		*conds = append(*conds, dsl.Node{Cond: &dsl.Cond{
			Field: "exchange", Operator: "=", Value: strings.ToUpper(m[1]),
		}})
		q = strings.Replace(q, m[0], " ", 1)
	}
	return q
}

var topNRe = regexp.MustCompile(`\btop\s+(\d+)(?:\s+(?:stocks|companies))?(?:\s+by\s+([a-z ]+?))?(?:$|,)`)

// extractSortLimit understands "top 20 by market cap" phrasing.
func (t *Translator) extractSortLimit(q string, rule *dsl.Rule) string {
	m := topNRe.FindStringSubmatch(q)
	if m == nil {
		return q
	}
	if n, _, ok := parseNumber(m[1]); ok && n >= 1 {
		rule.Limit = int(n)
	}
	if m[2] != "" {
		if field := t.cat.ResolveAlias(m[2]); field != nil && field.Sortable {
			rule.Sort = &dsl.Sort{Field: field.Name, Order: "desc"}
		}
	}
	return strings.Replace(q, m[0], " ", 1)
}

var crossFieldRe = regexp.MustCompile(`([a-z0-9 ]+?)\s+(below|above|under|over|less than|greater than|lower than|higher than)\s+([a-z ]+)$`)

var crossFieldOps = map[string]string{
	"below":        "<",
	"under":        "<",
	"less than":    "<",
	"lower than":   "<",
	"above":        ">",
	"over":         ">",
	"greater than": ">",
	"higher than":  ">",
}

// extractCrossField matches "<field-phrase> below <field-phrase>" where
// the right side is itself a catalog field rather than a number.
func (t *Translator) extractCrossField(q string, conds *[]dsl.Node) string {
	m := crossFieldRe.FindStringSubmatch(q)
	if m == nil || strings.ContainsAny(m[3], "0123456789") {
		return q
	}
	lhs := t.cat.ResolveAlias(m[1])
	rhs := t.cat.ResolveAlias(m[3])
	if lhs == nil || rhs == nil || lhs.Name == rhs.Name {
		return q
	}
	*conds = append(*conds, dsl.Node{Cond: &dsl.Cond{
		Field:        lhs.Name,
		Operator:     crossFieldOps[m[2]],
		Value:        rhs.Name,
		ValueIsField: true,
	}})
	return strings.Replace(q, m[0], " ", 1)
}

var buybackRe = regexp.MustCompile(`\b(?:recent(?:ly)?\s+)?(?:announced\s+)?buybacks?(?:\s+announced)?\b`)
var earningsEventRe = regexp.MustCompile(`\b(?:upcoming\s+(?:earnings|results)|(?:earnings|results)\s+(?:soon|this week|this month|coming up))\b`)

// extractEvents maps event keywords onto exists-checks against the
// associated date columns.
func (t *Translator) extractEvents(q string, conds *[]dsl.Node) string {
	if m := buybackRe.FindString(q); m != "" {
		*conds = append(*conds, dsl.Node{Cond: &dsl.Cond{
			Field: "buyback_announcement_date", Operator: "exists", Value: true,
		}})
		q = strings.Replace(q, m, " ", 1)
	}
	if m := earningsEventRe.FindString(q); m != "" {
		*conds = append(*conds, dsl.Node{Cond: &dsl.Cond{
			Field: "earnings_date", Operator: "exists", Value: true,
		}})
		q = strings.Replace(q, m, " ", 1)
	}
	return q
}

func (t *Translator) parseSegments(q string, conds *[]dsl.Node) {
	for _, segment := range splitAny(q, []string{" and ", ","}) {
		if cond := t.parseCondition(unmaskBetween(segment)); cond != nil {
			*conds = append(*conds, dsl.Node{Cond: cond})
		}
	}
}

var fillerPrefixes = []string{
	"stocks with", "companies with", "stocks having", "companies having",
	"stocks where", "with", "having", "where", "show", "find", "stocks", "companies",
}

var positiveRe = regexp.MustCompile(`^positive\s+(.+)$`)
var negativeRe = regexp.MustCompile(`^negative\s+(.+)$`)
var growthRe = regexp.MustCompile(`^(?:consistently\s+)?(?:increasing|growing|rising|improving)\s+(.+)$`)

// symbolOpRe handles "pe < 15"; wordOpRe handles spoken operators, which
// must sit at a word boundary so "turnover" is not read as "turn over".
var symbolOpRe = regexp.MustCompile(`^(.*?)\s*(?:is\s+)?(<=|>=|!=|<|>|=)\s*(.+)$`)
var wordOpRe = regexp.MustCompile(`^(.*?)(?:\s+(?:is|of))?\s+(less than or equal to|greater than or equal to|less than|lower than|greater than|more than|higher than|below|above|under|over|at least|at most|not equal to|equal to|equals|between|in)\s+(.+)$`)

var opPhrases = map[string]string{
	"less than":                "<",
	"lower than":               "<",
	"below":                    "<",
	"under":                    "<",
	"greater than":             ">",
	"more than":                ">",
	"higher than":              ">",
	"above":                    ">",
	"over":                     ">",
	"at least":                 ">=",
	"greater than or equal to": ">=",
	"at most":                  "<=",
	"less than or equal to":    "<=",
	"equals":                   "=",
	"equal to":                 "=",
	"not equal to":             "!=",
}

// parseCondition parses one AND-segment into a condition, or nil when the
// segment does not resolve.
func (t *Translator) parseCondition(segment string) *dsl.Cond {
	segment = strings.TrimSpace(segment)
	for _, prefix := range fillerPrefixes {
		if strings.HasPrefix(segment, prefix+" ") {
			segment = strings.TrimSpace(segment[len(prefix):])
			break
		}
	}
	if segment == "" {
		return nil
	}

	segment, period := extractPeriod(segment)

	if m := positiveRe.FindStringSubmatch(segment); m != nil {
		return t.zeroComparison(m[1], ">", period)
	}
	if m := negativeRe.FindStringSubmatch(segment); m != nil {
		return t.zeroComparison(m[1], "<", period)
	}
	if m := growthRe.FindStringSubmatch(segment); m != nil {
		field := t.cat.ResolveAlias(m[1])
		if field == nil {
			return nil
		}
		if field.GrowthField != "" {
			return &dsl.Cond{Field: field.GrowthField, Operator: ">", Value: float64(0)}
		}
		return t.condWithPeriod(field, ">", float64(0), period)
	}

	m := symbolOpRe.FindStringSubmatch(segment)
	if m == nil {
		m = wordOpRe.FindStringSubmatch(segment)
	}
	if m == nil {
		// Standalone growth phrases like "revenue growth" imply > 0.
		if field := t.cat.ResolveAlias(segment); field != nil && strings.Contains(segment, "growth") {
			return &dsl.Cond{Field: field.Name, Operator: ">", Value: float64(0)}
		}
		return nil
	}

	field := t.cat.ResolveAlias(m[1])
	if field == nil {
		return nil
	}
	op := m[2]
	if mapped, ok := opPhrases[op]; ok {
		op = mapped
	}
	rhs := strings.TrimSpace(m[3])

	switch op {
	case "between":
		parts := strings.SplitN(rhs, " and ", 2)
		if len(parts) != 2 {
			return nil
		}
		lo, _, okLo := parseNumber(parts[0])
		hi, _, okHi := parseNumber(parts[1])
		if !okLo || !okHi {
			return nil
		}
		return t.condWithPeriod(field, "between",
			[]interface{}{t.rescale(field, lo, false), t.rescale(field, hi, false)}, period)
	case "in":
		var values []interface{}
		for _, part := range strings.Split(rhs, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
		if len(values) == 0 {
			return nil
		}
		return &dsl.Cond{Field: field.Name, Operator: "in", Value: values}
	default:
		v, percent, ok := parseNumber(rhs)
		if !ok {
			// String equality: "sector equals energy" style.
			if op == "=" || op == "!=" {
				return &dsl.Cond{Field: field.Name, Operator: op, Value: rhs}
			}
			return nil
		}
		return t.condWithPeriod(field, op, t.rescale(field, v, percent), period)
	}
}

func (t *Translator) zeroComparison(phrase, op string, period *dsl.Period) *dsl.Cond {
	field := t.cat.ResolveAlias(phrase)
	if field == nil {
		return nil
	}
	return t.condWithPeriod(field, op, float64(0), period)
}

// condWithPeriod attaches the period only when the field carries history;
// periods on snapshot fields are dropped rather than passed downstream.
func (t *Translator) condWithPeriod(field *catalog.Field, op string, value interface{}, period *dsl.Period) *dsl.Cond {
	c := &dsl.Cond{Field: field.Name, Operator: op, Value: value}
	if period != nil && field.TimeSeries {
		c.Period = period
	}
	return c
}

// rescale divides percent literals down for fraction-scaled columns.
func (t *Translator) rescale(field *catalog.Field, v float64, percent bool) float64 {
	if field.Scale == catalog.FractionScale && (percent || v > 1 || v < -1) {
		return v / 100
	}
	return v
}

var periodRe = regexp.MustCompile(`(?:\s+(?:in|for|over))?(?:\s+the)?\s+(?:last|past)\s+(\d+)\s+(quarters?|years?)`)
var ttmRe = regexp.MustCompile(`(?:\s+(?:in|for|over))?(?:\s+the)?\s+(?:trailing\s+twelve\s+months|last\s+12\s+months|ttm)`)

// aggregationTerms is checked in order; longer phrases come first so
// "on average" wins over "average".
var aggregationTerms = []struct {
	phrase string
	agg    string
}{
	{"at least once", dsl.AggAny},
	{"every quarter", dsl.AggAll},
	{"all quarters", dsl.AggAll},
	{"any quarter", dsl.AggAny},
	{"on average", dsl.AggAvg},
	{"average", dsl.AggAvg},
	{"avg", dsl.AggAvg},
	{"in any", dsl.AggAny},
}

// extractPeriod strips a trailing window clause and returns the residue
// and the period, if any.
func extractPeriod(segment string) (string, *dsl.Period) {
	agg := ""
	for _, term := range aggregationTerms {
		if strings.Contains(segment, term.phrase) {
			segment = strings.Replace(segment, term.phrase, " ", 1)
			agg = term.agg
			break
		}
	}

	if m := periodRe.FindStringSubmatch(segment); m != nil {
		n, _, ok := parseNumber(m[1])
		if ok {
			ptype := dsl.LastNQuarters
			if strings.HasPrefix(m[2], "year") {
				ptype = dsl.LastNYears
			}
			segment = strings.Replace(segment, m[0], " ", 1)
			return strings.TrimSpace(segment), &dsl.Period{Type: ptype, N: int(n), Aggregation: agg}
		}
	}
	if m := ttmRe.FindString(segment); m != "" {
		segment = strings.Replace(segment, m, " ", 1)
		return strings.TrimSpace(segment), &dsl.Period{Type: dsl.Trailing12Months, N: 4, Aggregation: agg}
	}
	return strings.TrimSpace(segment), nil
}

var betweenRe = regexp.MustCompile(`(between\s+-?[\d.]+\s*%?\s*[a-z]*)\s+and\s+`)

// maskBetween shields the "and" inside a between-range from the logical
// splitter; unmaskBetween restores it per segment.
func maskBetween(q string) string {
	return betweenRe.ReplaceAllString(q, "$1 ~ ")
}

func unmaskBetween(segment string) string {
	return strings.ReplaceAll(segment, " ~ ", " and ")
}

func splitAny(s string, separators []string) []string {
	parts := []string{s}
	for _, sep := range separators {
		var next []string
		for _, part := range parts {
			next = append(next, strings.Split(part, sep)...)
		}
		parts = next
	}
	var out []string
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// indexWord finds phrase in s at a word boundary.
func indexWord(s, phrase string) int {
	idx := 0
	for {
		found := strings.Index(s[idx:], phrase)
		if found < 0 {
			return -1
		}
		found += idx
		startOK := found == 0 || s[found-1] == ' '
		end := found + len(phrase)
		endOK := end == len(s) || s[end] == ' ' || s[end] == ','
		if startOK && endOK {
			return found
		}
		idx = found + 1
	}
}
