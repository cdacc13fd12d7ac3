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

// Package marketdata reads per-instrument snapshots out of the store:
// quotes with change percentages, company metadata, and the latest
// fundamentals row. Every fetch carries its own deadline so one slow
// source cannot stall an alert cycle.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/database"
)

// ErrNotFound is returned when the instrument has no data for the
// requested bundle.
var ErrNotFound = errors.New("marketdata: not found")

// Quote is the latest price snapshot with trailing change percentages.
type Quote struct {
	Ticker      string     `json:"ticker"`
	Price       float64    `json:"price"`
	Volume      *float64   `json:"volume,omitempty"`
	RSI         *float64   `json:"rsi,omitempty"`
	ChangePct1D *float64   `json:"changePct1d,omitempty"`
	ChangePct1W *float64   `json:"changePct1w,omitempty"`
	ChangePct1M *float64   `json:"changePct1m,omitempty"`
	Time        *time.Time `json:"time,omitempty"`
}

// Metadata is the company identity row plus event dates and the average
// analyst target.
type Metadata struct {
	Ticker           string     `json:"ticker"`
	Name             string     `json:"name"`
	Sector           string     `json:"sector"`
	Industry         string     `json:"industry"`
	Exchange         string     `json:"exchange"`
	MarketCap        *float64   `json:"marketCap,omitempty"`
	NextEarningsDate *time.Time `json:"nextEarningsDate,omitempty"`
	LastBuybackDate  *time.Time `json:"lastBuybackDate,omitempty"`
	PriceTargetAvg   *float64   `json:"priceTargetAvg,omitempty"`
}

// Fundamentals maps catalog field names to values from the latest
// fundamentals row. Null columns are absent.
type Fundamentals map[string]float64

// Fetcher reads market data bundles for the alert evaluator; the
// interface exists so tests can stub the store away.
type Fetcher interface {
	Quote(ctx context.Context, ticker string) (*Quote, error)
	Metadata(ctx context.Context, ticker string) (*Metadata, error)
	Fundamentals(ctx context.Context, ticker string) (Fundamentals, error)
}

// Store is the postgres-backed Fetcher.
type Store struct {
	cat     *catalog.Catalog
	timeout time.Duration
}

func NewStore(cat *catalog.Catalog) *Store {
	timeout := viper.GetDuration("marketdata.fetch_timeout")
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Store{cat: cat, timeout: timeout}
}

// Quote loads the latest close plus 1d/1w/1m change percentages computed
// from the trailing price window. Trading-day offsets: 1, 5 and 21 rows
// back.
func (s *Store) Quote(ctx context.Context, ticker string) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := database.Pool().Query(ctx,
		"SELECT time, close, volume, rsi_14 FROM price_history WHERE ticker = $1 AND close IS NOT NULL ORDER BY time DESC LIMIT $2",
		ticker, 22)
	if err != nil {
		log.Error().Stack().Err(err).Str("Ticker", ticker).Msg("could not load quote window")
		return nil, err
	}
	defer rows.Close()

	var window []bar
	for rows.Next() {
		var b bar
		if err := rows.Scan(&b.time, &b.close, &b.volume, &b.rsi); err != nil {
			return nil, err
		}
		window = append(window, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return nil, ErrNotFound
	}

	latest := window[0]
	q := &Quote{
		Ticker: ticker,
		Price:  latest.close,
		Volume: latest.volume,
		RSI:    latest.rsi,
		Time:   &latest.time,
	}
	q.ChangePct1D = changePct(window, 1)
	q.ChangePct1W = changePct(window, 5)
	q.ChangePct1M = changePct(window, 21)
	return q, nil
}

type bar struct {
	time   time.Time
	close  float64
	volume *float64
	rsi    *float64
}

// changePct computes the percent change from `offset` rows back to the
// newest row; nil when the window is too short or the base is zero.
func changePct(window []bar, offset int) *float64 {
	if len(window) <= offset {
		return nil
	}
	base := window[offset].close
	if base == 0 {
		return nil
	}
	pct := (window[0].close - base) / base * 100
	return &pct
}

// Metadata loads the company identity row and the latest analyst target.
func (s *Store) Metadata(ctx context.Context, ticker string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	m := &Metadata{Ticker: ticker}
	err := database.Pool().QueryRow(ctx,
		"SELECT name, sector, industry, exchange, market_cap, next_earnings_date, last_buyback_date FROM companies WHERE ticker = $1",
		ticker).Scan(&m.Name, &m.Sector, &m.Industry, &m.Exchange, &m.MarketCap, &m.NextEarningsDate, &m.LastBuybackDate)
	if err != nil {
		log.Error().Stack().Err(err).Str("Ticker", ticker).Msg("could not load company metadata")
		return nil, err
	}

	// The analyst estimate is optional; absence leaves the field nil.
	err = database.Pool().QueryRow(ctx,
		"SELECT price_target_avg FROM analyst_estimates WHERE ticker = $1 ORDER BY estimate_date DESC LIMIT 1",
		ticker).Scan(&m.PriceTargetAvg)
	if err != nil {
		m.PriceTargetAvg = nil
	}
	return m, nil
}

// Fundamentals loads the latest fundamentals row mapped onto catalog
// field names.
func (s *Store) Fundamentals(ctx context.Context, ticker string) (Fundamentals, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields := s.fundamentalFields()
	sql := "SELECT "
	for i, f := range fields {
		if i > 0 {
			sql += ", "
		}
		sql += f.Column
	}
	sql += " FROM fundamentals_quarterly WHERE ticker = $1 ORDER BY id DESC LIMIT 1"

	rows, err := database.Pool().Query(ctx, sql, ticker)
	if err != nil {
		log.Error().Stack().Err(err).Str("Ticker", ticker).Msg("could not load fundamentals")
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}

	out := make(Fundamentals, len(fields))
	for i, f := range fields {
		if v, ok := toFloat(values[i]); ok {
			out[f.Name] = v
		}
	}
	return out, nil
}

// fundamentalFields returns the non-derived numeric catalog entries that
// live on the fundamentals table, in declaration order.
func (s *Store) fundamentalFields() []*catalog.Field {
	var out []*catalog.Field
	for _, f := range s.cat.Fields() {
		if f.Table == catalog.TableFundamentals && f.Derived == nil {
			out = append(out, f)
		}
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}
