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

package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgsql"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"

	"github.com/marketscreen/ms-api/database"
)

// Mover is one row of the top-movers board.
type Mover struct {
	Ticker    string  `json:"ticker"`
	Name      string  `json:"name"`
	Close     float64 `json:"close"`
	ChangePct float64 `json:"changePct"`
}

const moversSQL = `SELECT c.ticker, c.name, p.close, ((p.close - p.prev) / NULLIF(p.prev, 0)) * 100 AS change_pct
FROM companies c
JOIN LATERAL (
  SELECT max(CASE WHEN w.rn = 1 THEN w.close END) AS close,
         max(CASE WHEN w.rn = 2 THEN w.close END) AS prev
  FROM (SELECT t.close, row_number() OVER (ORDER BY t.time DESC) AS rn
        FROM price_history t WHERE t.ticker = c.ticker LIMIT 2) w
) p ON true
WHERE p.prev IS NOT NULL AND p.prev != 0
ORDER BY change_pct %s
LIMIT $1`

// Movers returns the instruments with the largest one-day move.
// direction is "gainers" or "losers".
func (s *Store) Movers(ctx context.Context, direction string, limit int) ([]Mover, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	order := "DESC"
	if direction == "losers" {
		order = "ASC"
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := database.Pool().Query(ctx, fmt.Sprintf(moversSQL, order), limit)
	if err != nil {
		log.Error().Stack().Err(err).Str("Direction", direction).Msg("could not load movers")
		return nil, err
	}
	defer rows.Close()

	var out []Mover
	for rows.Next() {
		var m Mover
		if err := rows.Scan(&m.Ticker, &m.Name, &m.Close, &m.ChangePct); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchCompanies lists companies matching simple equality/pattern
// filters like {"sector": "eq.Energy"}. Filter values take the form
// [op].[value], mirroring the query-string contract of the list API.
func (s *Store) SearchCompanies(ctx context.Context, where map[string]string, limit int) ([]map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stmt := &pgsql.SelectStatement{}
	for _, col := range []string{"ticker", "name", "sector", "industry", "exchange", "market_cap"} {
		stmt.Select(pgx.Identifier{col}.Sanitize())
	}
	stmt.From(pgx.Identifier{"companies"}.Sanitize())

	for k, v := range where {
		p := strings.SplitN(v, ".", 2)
		if len(p) != 2 {
			return nil, errors.New("where clauses must take the form [OP].[value]")
		}
		op, val := p[0], p[1]
		k = pgx.Identifier{k}.Sanitize()
		switch op {
		case "eq":
			stmt.Where(fmt.Sprintf("%s = ?", k), val)
		case "neq":
			stmt.Where(fmt.Sprintf("%s <> ?", k), val)
		case "like":
			stmt.Where(fmt.Sprintf("%s like ?", k), val)
		case "ilike":
			stmt.Where(fmt.Sprintf("%s ilike ?", k), val)
		default:
			return nil, errors.New("unrecognized operator")
		}
	}
	stmt.Order("market_cap DESC NULLS LAST")

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	sql, args := pgsql.Build(stmt)
	sql = fmt.Sprintf("%s LIMIT %d", sql, limit)

	rows, err := database.Pool().Query(ctx, sql, args...)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not search companies")
		return nil, err
	}
	defer rows.Close()

	var out []map[string]interface{}
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
