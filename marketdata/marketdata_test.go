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

package marketdata_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pashagolub/pgxmock"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/marketdata"
)

// quoteWindow builds a price_history result set, newest row first, with
// one trading day between rows.
func quoteWindow(closes ...float64) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"time", "close", "volume", "rsi_14"})
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		rows.AddRow(day.AddDate(0, 0, -i), c, nil, nil)
	}
	return rows
}

var _ = Describe("Store", func() {
	var (
		dbPool pgxmock.PgxConnIface
		store  *marketdata.Store
		ctx    context.Context
		err    error
	)

	BeforeEach(func() {
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
		store = marketdata.NewStore(catalog.Default())
		ctx = context.Background()
	})

	Describe("Quote", func() {
		It("should compute trailing change percentages from the window", func() {
			closes := make([]float64, 22)
			for i := range closes {
				closes[i] = 100
			}
			closes[0] = 110 // latest
			closes[1] = 100 // 1 day back
			closes[5] = 88  // 1 week back
			closes[21] = 55 // 1 month back
			dbPool.ExpectQuery("SELECT time, close, volume, rsi_14 FROM price_history").
				WithArgs("INFY", 22).
				WillReturnRows(quoteWindow(closes...))

			q, err := store.Quote(ctx, "INFY")
			Expect(err).To(BeNil())
			Expect(q.Price).To(Equal(110.0))
			Expect(*q.ChangePct1D).To(BeNumerically("~", 10.0, 1e-9))
			Expect(*q.ChangePct1W).To(BeNumerically("~", 25.0, 1e-9))
			Expect(*q.ChangePct1M).To(BeNumerically("~", 100.0, 1e-9))
		})

		It("should leave change percentages nil when the window is short", func() {
			dbPool.ExpectQuery("SELECT time, close, volume, rsi_14 FROM price_history").
				WithArgs("INFY", 22).
				WillReturnRows(quoteWindow(110, 100, 105))

			q, err := store.Quote(ctx, "INFY")
			Expect(err).To(BeNil())
			Expect(q.ChangePct1D).NotTo(BeNil())
			Expect(q.ChangePct1W).To(BeNil())
			Expect(q.ChangePct1M).To(BeNil())
		})

		It("should return ErrNotFound for an empty window", func() {
			dbPool.ExpectQuery("SELECT time, close, volume, rsi_14 FROM price_history").
				WithArgs("ZZZZ", 22).
				WillReturnRows(quoteWindow())

			_, err := store.Quote(ctx, "ZZZZ")
			Expect(errors.Is(err, marketdata.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Metadata", func() {
		It("should load the company row and the latest analyst target", func() {
			dbPool.ExpectQuery("SELECT name, sector, industry, exchange, market_cap, next_earnings_date, last_buyback_date FROM companies").
				WithArgs("INFY").
				WillReturnRows(pgxmock.NewRows([]string{"name", "sector", "industry", "exchange",
					"market_cap", "next_earnings_date", "last_buyback_date"}).
					AddRow("Infosys Ltd", "Technology", "IT Services", "NSE", 5.2e12, nil, nil))
			dbPool.ExpectQuery("SELECT price_target_avg FROM analyst_estimates").
				WithArgs("INFY").
				WillReturnRows(pgxmock.NewRows([]string{"price_target_avg"}).AddRow(1825.0))

			m, err := store.Metadata(ctx, "INFY")
			Expect(err).To(BeNil())
			Expect(m.Name).To(Equal("Infosys Ltd"))
			Expect(m.PriceTargetAvg).NotTo(BeNil())
			Expect(*m.PriceTargetAvg).To(Equal(1825.0))
		})

		It("should tolerate a missing analyst estimate", func() {
			dbPool.ExpectQuery("SELECT name, sector, industry, exchange, market_cap, next_earnings_date, last_buyback_date FROM companies").
				WithArgs("INFY").
				WillReturnRows(pgxmock.NewRows([]string{"name", "sector", "industry", "exchange",
					"market_cap", "next_earnings_date", "last_buyback_date"}).
					AddRow("Infosys Ltd", "Technology", "IT Services", "NSE", nil, nil, nil))
			dbPool.ExpectQuery("SELECT price_target_avg FROM analyst_estimates").
				WithArgs("INFY").
				WillReturnError(errors.New("no rows in result set"))

			m, err := store.Metadata(ctx, "INFY")
			Expect(err).To(BeNil())
			Expect(m.PriceTargetAvg).To(BeNil())
		})

		It("should surface a missing company row", func() {
			dbPool.ExpectQuery("SELECT name, sector, industry, exchange, market_cap, next_earnings_date, last_buyback_date FROM companies").
				WithArgs("ZZZZ").
				WillReturnError(errors.New("no rows in result set"))

			_, err := store.Metadata(ctx, "ZZZZ")
			Expect(err).NotTo(BeNil())
		})
	})

	Describe("Fundamentals", func() {
		It("should map columns onto catalog field names and skip nulls", func() {
			cat := catalog.Default()
			var cols []string
			for _, f := range cat.Fields() {
				if f.Table == catalog.TableFundamentals && f.Derived == nil {
					cols = append(cols, f.Column)
				}
			}
			values := make([]interface{}, len(cols))
			for i, col := range cols {
				switch col {
				case "pe_ratio":
					values[i] = 18.5
				case "roe":
					values[i] = 22.0
				case "net_income":
					values[i] = int64(64520000000)
				}
			}
			dbPool.ExpectQuery("FROM fundamentals_quarterly").
				WithArgs("INFY").
				WillReturnRows(pgxmock.NewRows(cols).AddRow(values...))

			fund, err := store.Fundamentals(ctx, "INFY")
			Expect(err).To(BeNil())
			Expect(fund["pe_ratio"]).To(Equal(18.5))
			Expect(fund["roe"]).To(Equal(22.0))
			Expect(fund["net_income"]).To(Equal(64520000000.0))
			_, ok := fund["pb_ratio"]
			Expect(ok).To(BeFalse())
		})

		It("should return ErrNotFound when no quarter is on file", func() {
			cat := catalog.Default()
			var cols []string
			for _, f := range cat.Fields() {
				if f.Table == catalog.TableFundamentals && f.Derived == nil {
					cols = append(cols, f.Column)
				}
			}
			dbPool.ExpectQuery("FROM fundamentals_quarterly").
				WithArgs("ZZZZ").
				WillReturnRows(pgxmock.NewRows(cols))

			_, err := store.Fundamentals(ctx, "ZZZZ")
			Expect(errors.Is(err, marketdata.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Movers", func() {
		It("should scan the movers board", func() {
			dbPool.ExpectQuery("SELECT c.ticker, c.name, p.close").
				WithArgs(10).
				WillReturnRows(pgxmock.NewRows([]string{"ticker", "name", "close", "change_pct"}).
					AddRow("TATAMOTORS", "Tata Motors Ltd", 975.4, 6.2).
					AddRow("INFY", "Infosys Ltd", 1710.0, 4.8))

			movers, err := store.Movers(ctx, "gainers", 10)
			Expect(err).To(BeNil())
			Expect(movers).To(HaveLen(2))
			Expect(movers[0].Ticker).To(Equal("TATAMOTORS"))
			Expect(movers[0].ChangePct).To(BeNumerically("~", 6.2, 1e-9))
		})

		It("should clamp an out-of-range limit to the default", func() {
			dbPool.ExpectQuery("SELECT c.ticker, c.name, p.close").
				WithArgs(10).
				WillReturnRows(pgxmock.NewRows([]string{"ticker", "name", "close", "change_pct"}))

			_, err := store.Movers(ctx, "losers", 5000)
			Expect(err).To(BeNil())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Describe("SearchCompanies", func() {
		It("should build filters from [op].[value] clauses", func() {
			dbPool.ExpectQuery(`FROM "companies"`).
				WithArgs("Energy").
				WillReturnRows(pgxmock.NewRows([]string{"ticker", "name", "sector", "industry", "exchange", "market_cap"}).
					AddRow("ONGC", "Oil and Natural Gas Corp", "Energy", "Oil and Gas", "NSE", 3.1e12))

			res, err := store.SearchCompanies(ctx, map[string]string{"sector": "eq.Energy"}, 0)
			Expect(err).To(BeNil())
			Expect(res).To(HaveLen(1))
			Expect(res[0]["ticker"]).To(Equal("ONGC"))
			Expect(res[0]["sector"]).To(Equal("Energy"))
		})

		It("should reject a malformed where clause", func() {
			_, err := store.SearchCompanies(ctx, map[string]string{"sector": "Energy"}, 0)
			Expect(err).NotTo(BeNil())
		})

		It("should reject an unknown operator", func() {
			_, err := store.SearchCompanies(ctx, map[string]string{"sector": "gt.Energy"}, 0)
			Expect(err).NotTo(BeNil())
		})
	})
})
