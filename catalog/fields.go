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

package catalog

// Table names. The compiler refuses to reference anything not listed here.
const (
	TableCompanies        = "companies"
	TableFundamentals     = "fundamentals_quarterly"
	TablePriceHistory     = "price_history"
	TableDebtProfile      = "debt_profile"
	TableCashFlow         = "cash_flow_statements"
	TableAnalystEstimates = "analyst_estimates"
)

var (
	comparisonOps = []string{"<", ">", "<=", ">=", "=", "!=", "between", "exists"}
	numericOps    = append([]string{"in", "not_in"}, comparisonOps...)
	trendOps      = append([]string{"increasing", "decreasing", "stable"}, numericOps...)
	stringOps     = []string{"=", "!=", "in", "not_in", "exists"}
	dateOps       = []string{"<", ">", "<=", ">=", "=", "exists"}
)

func fptr(v float64) *float64 { return &v }

// Default is the production field catalog. The order below is the
// projection order of screener results.
func Default() *Catalog {
	return New([]*Field{
		// Instrument identity and classification.
		{Name: "ticker", Kind: String, Table: TableCompanies, Column: "ticker",
			Operators: stringOps, Aliases: []string{"symbol"}, Sortable: true},
		{Name: "company_name", Kind: String, Table: TableCompanies, Column: "name",
			Operators: stringOps, Aliases: []string{"company", "name"}, Sortable: true},
		{Name: "sector", Kind: String, Table: TableCompanies, Column: "sector",
			Operators: stringOps, Aliases: []string{"sector"}},
		{Name: "industry", Kind: String, Table: TableCompanies, Column: "industry",
			Operators: stringOps, Aliases: []string{"industry"}},
		{Name: "exchange", Kind: String, Table: TableCompanies, Column: "exchange",
			Operators: stringOps, Aliases: []string{"exchange", "listed on"}},
		{Name: "market_cap", Kind: Numeric, Table: TableCompanies, Column: "market_cap",
			Operators: numericOps, Min: fptr(0), Sortable: true, Display: true,
			Aliases: []string{"market cap", "market capitalization", "mcap"}},

		// Quarterly fundamentals. id is the monotonic ordering column.
		{Name: "pe_ratio", Kind: Numeric, Table: TableFundamentals, Column: "pe_ratio",
			Operators: numericOps, Min: fptr(0), Max: fptr(10000), Sortable: true, Display: true,
			Aliases: []string{"pe", "pe ratio", "p e", "price to earnings", "price earnings ratio"}},
		{Name: "pb_ratio", Kind: Numeric, Table: TableFundamentals, Column: "pb_ratio",
			Operators: numericOps, Min: fptr(0), Sortable: true, Display: true,
			Aliases: []string{"pb", "pb ratio", "price to book", "book value ratio"}},
		{Name: "price_to_sales", Kind: Numeric, Table: TableFundamentals, Column: "price_to_sales",
			Operators: numericOps, Min: fptr(0), Sortable: true,
			Aliases: []string{"ps ratio", "price to sales"}},
		{Name: "ev_to_ebitda", Kind: Numeric, Table: TableFundamentals, Column: "ev_to_ebitda",
			Operators: numericOps, Sortable: true,
			Aliases: []string{"ev ebitda", "ev to ebitda", "enterprise multiple"}},
		{Name: "roe", Kind: Percentage, Table: TableFundamentals, Column: "roe",
			Operators: numericOps, Min: fptr(-100), Max: fptr(100), Sortable: true, Display: true,
			Aliases: []string{"roe", "return on equity"}},
		{Name: "roa", Kind: Percentage, Table: TableFundamentals, Column: "roa",
			Operators: numericOps, Min: fptr(-100), Max: fptr(100), Sortable: true,
			Aliases: []string{"roa", "return on assets"}},
		{Name: "net_income", Kind: Numeric, Table: TableFundamentals, Column: "net_income",
			Operators: trendOps, TimeSeries: true, Sortable: true, Display: true,
			Aliases:     []string{"net income", "net profit", "profit", "earnings", "pat"},
			GrowthField: "earnings_growth_yoy"},
		{Name: "revenue", Kind: Numeric, Table: TableFundamentals, Column: "revenue",
			Operators: trendOps, TimeSeries: true, Min: fptr(0), Sortable: true, Display: true,
			Aliases:     []string{"revenue", "sales", "topline", "turnover"},
			GrowthField: "revenue_growth_yoy"},
		{Name: "eps", Kind: Numeric, Table: TableFundamentals, Column: "eps",
			Operators: trendOps, TimeSeries: true, Sortable: true,
			Aliases: []string{"eps", "earnings per share"}, GrowthField: "eps_growth"},
		{Name: "ebitda", Kind: Numeric, Table: TableFundamentals, Column: "ebitda",
			Operators: trendOps, TimeSeries: true, Sortable: true,
			Aliases: []string{"ebitda"}},
		{Name: "gross_profit", Kind: Numeric, Table: TableFundamentals, Column: "gross_profit",
			Operators: trendOps, TimeSeries: true, Sortable: true,
			Aliases: []string{"gross profit"}},
		{Name: "operating_profit", Kind: Numeric, Table: TableFundamentals, Column: "operating_profit",
			Operators: trendOps, TimeSeries: true, Sortable: true,
			Aliases: []string{"operating profit", "ebit"}},
		{Name: "operating_margin", Kind: Fraction, Table: TableFundamentals, Column: "operating_margin",
			Operators: numericOps, Min: fptr(-1), Max: fptr(1), Scale: FractionScale, Sortable: true,
			Aliases: []string{"operating margin", "opm"}},
		{Name: "net_margin", Kind: Fraction, Table: TableFundamentals, Column: "net_margin",
			Operators: numericOps, Min: fptr(-1), Max: fptr(1), Scale: FractionScale, Sortable: true,
			Aliases: []string{"net margin", "net profit margin", "npm"}},
		{Name: "dividend_yield", Kind: Percentage, Table: TableFundamentals, Column: "dividend_yield",
			Operators: numericOps, Min: fptr(0), Max: fptr(50), Sortable: true,
			Aliases: []string{"dividend yield", "yield"}},
		{Name: "current_ratio", Kind: Numeric, Table: TableFundamentals, Column: "current_ratio",
			Operators: numericOps, Min: fptr(0), Sortable: true,
			Aliases: []string{"current ratio"}},
		{Name: "quick_ratio", Kind: Numeric, Table: TableFundamentals, Column: "quick_ratio",
			Operators: numericOps, Min: fptr(0), Sortable: true,
			Aliases: []string{"quick ratio"}},
		{Name: "debt_to_equity", Kind: Numeric, Table: TableFundamentals, Column: "debt_to_equity",
			Operators: numericOps, Min: fptr(0), Sortable: true,
			Aliases: []string{"debt to equity", "de ratio", "leverage"}},
		{Name: "eps_growth", Kind: Percentage, Table: TableFundamentals, Column: "eps_growth",
			Operators: numericOps, Min: fptr(-100), Max: fptr(1000), Sortable: true,
			Aliases: []string{"eps growth", "earnings per share growth"}},
		{Name: "revenue_growth_yoy", Kind: Percentage, Table: TableFundamentals, Column: "revenue_growth_yoy",
			Operators: numericOps, Min: fptr(-100), Max: fptr(500), Sortable: true,
			Aliases: []string{"revenue growth", "sales growth", "topline growth"}},
		{Name: "earnings_growth_yoy", Kind: Percentage, Table: TableFundamentals, Column: "earnings_growth_yoy",
			Operators: numericOps, Min: fptr(-100), Max: fptr(1000), Sortable: true,
			Aliases: []string{"earnings growth", "profit growth", "pat growth"}},
		{Name: "promoter_holding", Kind: Percentage, Table: TableFundamentals, Column: "promoter_holding",
			Operators: numericOps, Min: fptr(0), Max: fptr(100), Sortable: true,
			Aliases: []string{"promoter holding", "promoter stake"}},

		// Price history. time is the monotonic ordering column.
		{Name: "price", Kind: Numeric, Table: TablePriceHistory, Column: "close",
			Operators: numericOps, Min: fptr(0), TimeSeries: true, Sortable: true, Display: true,
			Aliases: []string{"price", "current price", "stock price", "close", "cmp", "share price"}},
		{Name: "volume", Kind: Numeric, Table: TablePriceHistory, Column: "volume",
			Operators: numericOps, Min: fptr(0), TimeSeries: true, Sortable: true,
			Aliases: []string{"volume", "traded volume"}},
		{Name: "rsi", Kind: Numeric, Table: TablePriceHistory, Column: "rsi_14",
			Operators: numericOps, Min: fptr(0), Max: fptr(100), TimeSeries: true,
			Aliases: []string{"rsi", "relative strength index"}},

		// Debt profile and cash flow side tables.
		{Name: "total_debt", Kind: Numeric, Table: TableDebtProfile, Column: "total_debt",
			Operators: numericOps, Min: fptr(0), Sortable: true,
			Aliases: []string{"total debt", "debt", "borrowings"}},
		{Name: "free_cash_flow", Kind: Numeric, Table: TableCashFlow, Column: "free_cash_flow",
			Operators: trendOps, TimeSeries: true, Sortable: true,
			Aliases: []string{"free cash flow", "fcf"}},
		{Name: "operating_cash_flow", Kind: Numeric, Table: TableCashFlow, Column: "operating_cash_flow",
			Operators: trendOps, TimeSeries: true, Sortable: true,
			Aliases: []string{"operating cash flow", "cash from operations", "ocf"}},

		// Analyst estimates and event dates.
		{Name: "price_target_avg", Kind: Numeric, Table: TableAnalystEstimates, Column: "price_target_avg",
			Operators: numericOps, Min: fptr(0), Sortable: true,
			Aliases: []string{"analyst target", "price target", "target price", "average target"}},
		{Name: "price_target_low", Kind: Numeric, Table: TableAnalystEstimates, Column: "price_target_low",
			Operators: numericOps, Min: fptr(0),
			Aliases: []string{"low target", "analyst low target"}},
		{Name: "price_target_high", Kind: Numeric, Table: TableAnalystEstimates, Column: "price_target_high",
			Operators: numericOps, Min: fptr(0),
			Aliases: []string{"high target", "analyst high target"}},
		{Name: "buyback_announcement_date", Kind: Date, Table: TableCompanies, Column: "last_buyback_date",
			Operators: dateOps, Aliases: []string{"buyback", "buyback announced", "share buyback"}},
		{Name: "earnings_date", Kind: Date, Table: TableCompanies, Column: "next_earnings_date",
			Operators: dateOps, Aliases: []string{"earnings date", "results date", "upcoming earnings"}},

		// Derived metrics. Formulas reference non-derived entries only.
		{Name: "debt_to_fcf", Kind: Numeric,
			Derived:   &Formula{Numerator: "total_debt", Denominator: "free_cash_flow", NonNegative: false},
			Operators: comparisonOps, Sortable: false,
			Aliases: []string{"debt to fcf", "debt to free cash flow"}},
		{Name: "peg_ratio", Kind: Numeric,
			Derived:   &Formula{Numerator: "pe_ratio", Denominator: "eps_growth"},
			Operators: comparisonOps,
			Aliases:   []string{"peg", "peg ratio"}},
		{Name: "fcf_margin", Kind: Percentage,
			Derived:   &Formula{Numerator: "free_cash_flow", Denominator: "revenue", Multiplier: 100},
			Operators: comparisonOps,
			Aliases:   []string{"fcf margin", "free cash flow margin"}},
		{Name: "fcf_yield", Kind: Percentage,
			Derived:   &Formula{Numerator: "free_cash_flow", Denominator: "market_cap", Multiplier: 100},
			Operators: comparisonOps,
			Aliases:   []string{"fcf yield", "free cash flow yield"}},
	})
}
