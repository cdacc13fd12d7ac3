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

package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/compiler"
	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/dsl"
	"github.com/marketscreen/ms-api/marketdata"
	"github.com/marketscreen/ms-api/validator"
)

// Bundle is the fresh data an evaluation sees. Any member may be nil
// when its source failed; evaluation degrades to not-triggered rather
// than erroring.
type Bundle struct {
	Quote        *marketdata.Quote
	Metadata     *marketdata.Metadata
	Fundamentals marketdata.Fundamentals
}

// Evaluator decides whether an alert fires against a data bundle.
type Evaluator struct {
	cat *catalog.Catalog
	cp  *compiler.Compiler
	val *validator.Validator
}

func NewEvaluator(cat *catalog.Catalog) *Evaluator {
	return &Evaluator{cat: cat, cp: compiler.New(cat), val: validator.New(cat)}
}

// Evaluate returns whether the alert triggers and a human-readable
// reason. Missing data never triggers.
func (e *Evaluator) Evaluate(ctx context.Context, a *Alert, b *Bundle) (bool, string, error) {
	if b == nil {
		b = &Bundle{}
	}
	switch a.Kind {
	case KindPriceThreshold:
		return e.evalPriceThreshold(a, b)
	case KindPriceChange:
		return e.evalPriceChange(a, b)
	case KindFundamental:
		return e.evalFundamental(a, b)
	case KindEvent:
		return e.evalEvent(a, b)
	case KindTechnical:
		return e.evalTechnical(a, b)
	case KindCustomDSL:
		return e.evalCustomDSL(ctx, a)
	}
	return false, "", fmt.Errorf("unknown alert kind %q", a.Kind)
}

func (e *Evaluator) evalPriceThreshold(a *Alert, b *Bundle) (bool, string, error) {
	if b.Quote == nil {
		return false, "no quote available", nil
	}
	target := a.Condition.Value
	label := fmt.Sprintf("%.2f", target)
	if a.Condition.Reference == RefPriceTargetAvg {
		if b.Metadata == nil || b.Metadata.PriceTargetAvg == nil {
			return false, "no analyst price target available", nil
		}
		target = *b.Metadata.PriceTargetAvg
		label = fmt.Sprintf("analyst target %.2f", target)
	}
	ok, err := compare(b.Quote.Price, a.Condition.Operator, target)
	if err != nil {
		return false, "", err
	}
	reason := fmt.Sprintf("%s price %.2f %s %s", a.Ticker, b.Quote.Price, a.Condition.Operator, label)
	return ok, reason, nil
}

func (e *Evaluator) evalPriceChange(a *Alert, b *Bundle) (bool, string, error) {
	if b.Quote == nil {
		return false, "no quote available", nil
	}
	if a.Condition.Reference == RefBuyPrice {
		if a.Condition.BuyPrice == 0 {
			return false, "", fmt.Errorf("buy_price reference requires condition.buy_price")
		}
		drop := (b.Quote.Price - a.Condition.BuyPrice) / a.Condition.BuyPrice * 100
		ok, err := compare(drop, a.Condition.Operator, a.Condition.Value)
		if err != nil {
			return false, "", err
		}
		reason := fmt.Sprintf("%s %.2f%% from buy price %.2f (%s %.2f%%)",
			a.Ticker, drop, a.Condition.BuyPrice, a.Condition.Operator, a.Condition.Value)
		return ok, reason, nil
	}
	var pct *float64
	switch a.Condition.Period {
	case "", "1d":
		pct = b.Quote.ChangePct1D
	case "1w":
		pct = b.Quote.ChangePct1W
	case "1m":
		pct = b.Quote.ChangePct1M
	default:
		return false, "", fmt.Errorf("unknown price change period %q", a.Condition.Period)
	}
	if pct == nil {
		return false, "insufficient price history", nil
	}
	ok, err := compare(*pct, a.Condition.Operator, a.Condition.Value)
	if err != nil {
		return false, "", err
	}
	reason := fmt.Sprintf("%s change %.2f%% %s %.2f%%", a.Ticker, *pct, a.Condition.Operator, a.Condition.Value)
	return ok, reason, nil
}

func (e *Evaluator) evalFundamental(a *Alert, b *Bundle) (bool, string, error) {
	field := e.cat.Resolve(a.Condition.Metric)
	if field == nil {
		// Alert conditions arrive over the API; accept the same free-form
		// metric spellings the screener does.
		field = e.cat.ResolveAlias(a.Condition.Metric)
	}
	if field == nil {
		return false, "", fmt.Errorf("unknown metric %q", a.Condition.Metric)
	}
	if b.Fundamentals == nil {
		return false, "no fundamentals available", nil
	}
	v, ok := b.Fundamentals[field.Name]
	if !ok {
		return false, fmt.Sprintf("%s not reported", field.Name), nil
	}
	match, err := compare(v, a.Condition.Operator, a.Condition.Value)
	if err != nil {
		return false, "", err
	}
	reason := fmt.Sprintf("%s %s %.2f %s %.2f", a.Ticker, field.Name, v, a.Condition.Operator, a.Condition.Value)
	return match, reason, nil
}

func (e *Evaluator) evalEvent(a *Alert, b *Bundle) (bool, string, error) {
	if b.Metadata == nil {
		return false, "no metadata available", nil
	}
	now := time.Now()
	switch a.Condition.Event {
	case EventEarningsDate:
		days := a.Condition.DaysBefore
		if days == 0 {
			days = 7
		}
		d := b.Metadata.NextEarningsDate
		if d == nil || d.Before(now) {
			return false, "no upcoming earnings date", nil
		}
		if d.Sub(now) <= time.Duration(days)*24*time.Hour {
			return true, fmt.Sprintf("%s reports earnings on %s", a.Ticker, d.Format("2006-01-02")), nil
		}
		return false, fmt.Sprintf("earnings on %s outside %d day window", d.Format("2006-01-02"), days), nil
	case EventBuybackAnnounced:
		days := a.Condition.DaysLookback
		if days == 0 {
			days = 30
		}
		d := b.Metadata.LastBuybackDate
		if d == nil || d.After(now) {
			return false, "no buyback announcement", nil
		}
		if now.Sub(*d) <= time.Duration(days)*24*time.Hour {
			return true, fmt.Sprintf("%s announced a buyback on %s", a.Ticker, d.Format("2006-01-02")), nil
		}
		return false, fmt.Sprintf("last buyback on %s outside %d day window", d.Format("2006-01-02"), days), nil
	}
	return false, "", fmt.Errorf("unknown event %q", a.Condition.Event)
}

func (e *Evaluator) evalTechnical(a *Alert, b *Bundle) (bool, string, error) {
	if b.Quote == nil {
		return false, "no quote available", nil
	}
	var v *float64
	switch a.Condition.Metric {
	case "rsi", "rsi_14":
		v = b.Quote.RSI
	case "volume":
		v = b.Quote.Volume
	default:
		return false, "", fmt.Errorf("unknown technical indicator %q", a.Condition.Metric)
	}
	if v == nil {
		return false, fmt.Sprintf("%s not available", a.Condition.Metric), nil
	}
	ok, err := compare(*v, a.Condition.Operator, a.Condition.Value)
	if err != nil {
		return false, "", err
	}
	reason := fmt.Sprintf("%s %s %.2f %s %.2f", a.Ticker, a.Condition.Metric, *v, a.Condition.Operator, a.Condition.Value)
	return ok, reason, nil
}

// evalCustomDSL runs the condition through the regular screener pipeline
// narrowed to the alert's instrument; a non-empty result set triggers.
func (e *Evaluator) evalCustomDSL(ctx context.Context, a *Alert) (bool, string, error) {
	if a.Ticker == "" {
		return false, "", fmt.Errorf("custom_dsl alert requires a ticker")
	}
	rule, err := dsl.ParseRule(a.Condition.DSL)
	if err != nil {
		return false, "", err
	}
	if vres := e.val.Validate(rule); !vres.Valid() {
		return false, "", fmt.Errorf("custom_dsl failed validation: %s", vres.Errors[0].Message)
	}
	compiled, err := e.cp.CompileForTicker(rule, a.Ticker)
	if err != nil {
		return false, "", err
	}
	rows, err := database.Pool().Query(ctx, compiled.SQL, compiled.Params...)
	if err != nil {
		return false, "", err
	}
	defer rows.Close()
	if rows.Next() {
		return true, fmt.Sprintf("%s matches custom screen", a.Ticker), nil
	}
	if err := rows.Err(); err != nil {
		return false, "", err
	}
	return false, fmt.Sprintf("%s does not match custom screen", a.Ticker), nil
}

func compare(v float64, op string, target float64) (bool, error) {
	switch op {
	case "<":
		return v < target, nil
	case ">":
		return v > target, nil
	case "<=":
		return v <= target, nil
	case ">=":
		return v >= target, nil
	case "=", "==":
		return v == target, nil
	case "!=":
		return v != target, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}
