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

// Package alerts holds the subscription model, the per-kind evaluator,
// and the periodic scheduler that drives evaluation. A subscription
// fires at most once per rate-limit window; "triggered" is a timestamp,
// not a state.
package alerts

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Alert kinds.
const (
	KindPriceThreshold = "price_threshold"
	KindPriceChange    = "price_change"
	KindFundamental    = "fundamental"
	KindEvent          = "event"
	KindTechnical      = "technical"
	KindCustomDSL      = "custom_dsl"
)

// Event names for KindEvent conditions.
const (
	EventEarningsDate     = "earnings_date"
	EventBuybackAnnounced = "buyback_announced"
)

// Condition is the structured trigger payload; which members matter
// depends on the alert kind.
type Condition struct {
	Metric       string          `json:"metric,omitempty"`
	Operator     string          `json:"operator,omitempty"`
	Value        float64         `json:"value,omitempty"`
	Period       string          `json:"period,omitempty"`    // price_change: 1d, 1w, 1m
	Reference    string          `json:"reference,omitempty"` // buy_price or price_target_avg
	BuyPrice     float64         `json:"buy_price,omitempty"`
	Event        string          `json:"event,omitempty"`
	DaysBefore   int             `json:"days_before,omitempty"`
	DaysLookback int             `json:"days_lookback,omitempty"`
	DSL          json.RawMessage `json:"dsl,omitempty"`
}

// References a condition may compare against instead of a literal.
const (
	RefBuyPrice       = "buy_price"
	RefPriceTargetAvg = "price_target_avg"
)

// Alert is one subscription row.
type Alert struct {
	ID            uuid.UUID  `json:"id"`
	UserID        string     `json:"userId"`
	Ticker        string     `json:"ticker,omitempty"`
	Kind          string     `json:"kind"`
	Condition     Condition  `json:"condition"`
	Frequency     string     `json:"frequency,omitempty"`
	Active        bool       `json:"active"`
	LastTriggered *time.Time `json:"lastTriggered,omitempty"`
	TriggerCount  int        `json:"triggerCount"`
	LastEvaluated *time.Time `json:"lastEvaluated,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the subscription has passed its expiry.
func (a *Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}
