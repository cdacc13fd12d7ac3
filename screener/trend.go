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

package screener

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/marketscreen/ms-api/compiler"
	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/dsl"
)

// stableTolerance bounds the spread-to-mean ratio a series may show and
// still count as stable.
const stableTolerance = 0.05

// applyTrendFilters re-screens the SQL result set against the trend
// conditions the compiler deferred to the host. Each surviving row must
// satisfy every trend condition.
func (s *Screener) applyTrendFilters(ctx context.Context, rows []map[string]interface{}, conds []dsl.Cond) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		ticker, ok := row["ticker"].(string)
		if !ok {
			continue
		}
		keep := true
		for i := range conds {
			match, err := s.evalTrend(ctx, ticker, &conds[i])
			if err != nil {
				return nil, err
			}
			if !match {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Screener) evalTrend(ctx context.Context, ticker string, c *dsl.Cond) (bool, error) {
	sql, err := compiler.HistoryQuery(s.cat, c.Field)
	if err != nil {
		return false, err
	}
	n := compiler.WindowRows(c.Period)

	rows, err := database.Pool().Query(ctx, sql, ticker, n)
	if err != nil {
		log.Error().Stack().Err(err).Str("Ticker", ticker).Str("Field", c.Field).Msg("trend history query failed")
		return false, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v *float64
		if err := rows.Scan(&v); err != nil {
			return false, err
		}
		if v != nil {
			values = append(values, *v)
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	return trendMatches(values, c), nil
}

// trendMatches checks a newest-first value series against a trend
// condition. Too few observations never match.
func trendMatches(newestFirst []float64, c *dsl.Cond) bool {
	minPeriods := 2
	consecutive := false
	direction := c.Operator
	if c.TrendConfig != nil {
		if c.TrendConfig.MinPeriods > minPeriods {
			minPeriods = c.TrendConfig.MinPeriods
		}
		consecutive = c.TrendConfig.Consecutive
		switch c.TrendConfig.Direction {
		case "up":
			direction = "increasing"
		case "down":
			direction = "decreasing"
		}
	}
	if len(newestFirst) < minPeriods {
		return false
	}

	switch direction {
	case "increasing":
		if consecutive {
			for i := 0; i < len(newestFirst)-1; i++ {
				if newestFirst[i] <= newestFirst[i+1] {
					return false
				}
			}
			return true
		}
		return newestFirst[0] > newestFirst[len(newestFirst)-1]
	case "decreasing":
		if consecutive {
			for i := 0; i < len(newestFirst)-1; i++ {
				if newestFirst[i] >= newestFirst[i+1] {
					return false
				}
			}
			return true
		}
		return newestFirst[0] < newestFirst[len(newestFirst)-1]
	case "stable":
		lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
		for _, v := range newestFirst {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			sum += v
		}
		mean := sum / float64(len(newestFirst))
		if mean == 0 {
			return hi == lo
		}
		return (hi - lo) <= stableTolerance*math.Abs(mean)
	}
	return false
}
