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

package compiler_test

import (
	"strings"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/compiler"
	"github.com/marketscreen/ms-api/dsl"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func cond(field, op string, value interface{}) dsl.Node {
	return dsl.Node{Cond: &dsl.Cond{Field: field, Operator: op, Value: value}}
}

var _ = Describe("Compiler", func() {
	var cp *compiler.Compiler

	BeforeEach(func() {
		cp = compiler.New(catalog.Default())
	})

	Describe("when compiling a simple value filter", func() {
		It("should parameterize the literal and append the default limit", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{cond("pe_ratio", "<", 15)}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("fq.pe_ratio < $1"))
			Expect(out.Params).To(Equal([]interface{}{15, 100}))
			Expect(out.SQL).NotTo(ContainSubstring("15"))
		})

		It("should emit WHERE 1=1 for an empty filter", func() {
			out, err := cp.Compile(&dsl.Rule{})
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("WHERE 1=1"))
			Expect(out.Params).To(Equal([]interface{}{100}))
		})

		It("should keep the explicit limit as the last parameter", func() {
			rule := &dsl.Rule{
				Filter: dsl.Node{And: []dsl.Node{cond("pe_ratio", "<", 15)}},
				Limit:  25,
			}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.Params[len(out.Params)-1]).To(Equal(25))
			Expect(out.SQL).To(ContainSubstring("LIMIT $2"))
		})
	})

	Describe("when compiling period conditions", func() {
		It("should quantify `all` with NOT EXISTS on the inverted operator", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{{
				Cond: &dsl.Cond{
					Field:    "net_income",
					Operator: ">",
					Value:    0,
					Period:   &dsl.Period{Type: dsl.LastNQuarters, N: 4, Aggregation: dsl.AggAll},
				},
			}}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("NOT EXISTS"))
			Expect(out.SQL).To(ContainSubstring("LIMIT $1"))
			Expect(out.SQL).To(ContainSubstring("w.v <= $2"))
			Expect(out.Params).To(Equal([]interface{}{4, 0, 100}))
			Expect(out.Metadata.UsesTimeSeries).To(BeTrue())
		})

		It("should quantify `any` with a plain EXISTS", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{{
				Cond: &dsl.Cond{
					Field:    "revenue",
					Operator: ">",
					Value:    1000,
					Period:   &dsl.Period{Type: dsl.LastNQuarters, N: 8, Aggregation: dsl.AggAny},
				},
			}}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("EXISTS (SELECT 1 FROM"))
			Expect(out.SQL).NotTo(ContainSubstring("NOT EXISTS"))
			Expect(out.SQL).To(ContainSubstring("w.v > $2"))
			Expect(out.Params).To(Equal([]interface{}{8, 1000, 100}))
		})

		It("should compare the window aggregate for avg", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{{
				Cond: &dsl.Cond{
					Field:    "eps",
					Operator: ">=",
					Value:    2.5,
					Period:   &dsl.Period{Type: dsl.LastNYears, N: 2, Aggregation: dsl.AggAvg},
				},
			}}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("SELECT AVG(w.v)"))
			// Two years windows eight quarterly rows.
			Expect(out.Params).To(Equal([]interface{}{8, 2.5, 100}))
		})

		It("should route trend aggregation into metadata, not SQL", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{{
				Cond: &dsl.Cond{
					Field:       "net_income",
					Operator:    "increasing",
					Period:      &dsl.Period{Type: dsl.LastNQuarters, N: 4, Aggregation: dsl.AggTrend},
					TrendConfig: &dsl.TrendConfig{Direction: "up", Consecutive: true},
				},
			}}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("TRUE"))
			Expect(out.SQL).NotTo(ContainSubstring("increasing"))
			Expect(out.Metadata.TrendConditions).To(HaveLen(1))
			Expect(out.Metadata.TrendConditions[0].Field).To(Equal("net_income"))
		})
	})

	Describe("when compiling cross-field comparisons", func() {
		It("should compare snapshot columns and join both tables", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{{
				Cond: &dsl.Cond{
					Field:        "price",
					Operator:     "<",
					Value:        "price_target_avg",
					ValueIsField: true,
				},
			}}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("ph.close < ae.price_target_avg"))
			Expect(out.Tables).To(ContainElement("price_history"))
			Expect(out.Tables).To(ContainElement("analyst_estimates"))
			Expect(out.SQL).To(ContainSubstring("LEFT JOIN LATERAL (SELECT * FROM price_history"))
			Expect(out.SQL).To(ContainSubstring("LEFT JOIN LATERAL (SELECT * FROM analyst_estimates"))
		})
	})

	Describe("when compiling derived metrics", func() {
		It("should expand the formula with a NULLIF guard", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{cond("debt_to_fcf", "<", 3)}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("(dp.total_debt::numeric / NULLIF(cf.free_cash_flow::numeric, 0)) < $1"))
			Expect(out.Params).To(Equal([]interface{}{3, 100}))
			Expect(out.Metadata.UsesDerivedMetrics).To(BeTrue())
		})

		It("should apply the formula multiplier", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{cond("fcf_margin", ">", 10)}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("NULLIF(fq.revenue::numeric, 0)) * 100)"))
		})

		It("should never emit a derived field as a raw column", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{cond("peg_ratio", "<", 1)}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).NotTo(ContainSubstring("peg_ratio"))
		})
	})

	Describe("when compiling operator shapes", func() {
		It("should expand between into two placeholders", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{
				cond("pe_ratio", "between", []interface{}{10, 20}),
			}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("BETWEEN $1 AND $2"))
			Expect(out.Params).To(Equal([]interface{}{10, 20, 100}))
		})

		It("should expand in across the value array", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{
				cond("sector", "in", []interface{}{"IT", "Pharma"}),
			}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("c.sector IN ($1, $2)"))
			Expect(out.Params).To(Equal([]interface{}{"IT", "Pharma", 100}))
		})

		It("should compile exists to a null check without parameters", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{
				cond("dividend_yield", "exists", true),
			}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("fq.dividend_yield IS NOT NULL"))
			Expect(out.Params).To(Equal([]interface{}{100}))
		})
	})

	Describe("when compiling logical structure", func() {
		It("should parenthesize OR groups", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{
				cond("market_cap", ">", 1000),
				{Or: []dsl.Node{
					cond("roe", ">", 15),
					cond("roa", ">", 10),
				}},
			}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("(fq.roe > $2 OR fq.roa > $3)"))
			Expect(out.Params).To(Equal([]interface{}{1000, 15, 10, 100}))
		})

		It("should negate NOT subtrees", func() {
			inner := cond("sector", "=", "Financials")
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{{Not: &inner}}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("NOT (c.sector = $1)"))
		})
	})

	Describe("when handling nulls", func() {
		It("should wrap the column with COALESCE for use_default", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{{
				Cond: &dsl.Cond{
					Field:        "dividend_yield",
					Operator:     ">",
					Value:        2,
					NullHandling: &dsl.NullHandling{Strategy: "use_default", DefaultValue: 0},
				},
			}}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("COALESCE(fq.dividend_yield, $1) > $2"))
			Expect(out.Params).To(Equal([]interface{}{0, 2, 100}))
		})

		It("should reject the interpolate strategy", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{{
				Cond: &dsl.Cond{
					Field:        "pe_ratio",
					Operator:     "<",
					Value:        15,
					NullHandling: &dsl.NullHandling{Strategy: "interpolate"},
				},
			}}}}
			_, err := cp.Compile(rule)
			Expect(err).To(MatchError(compiler.ErrNotImplemented))
		})
	})

	Describe("when reading sparse time-series fields without a period", func() {
		It("should compare against the latest non-null value, not the lateral row", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{cond("price", ">", 500)}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("ph2.close IS NOT NULL"))
			Expect(out.SQL).To(ContainSubstring("ORDER BY ph2.time DESC LIMIT 1) > $1"))
		})
	})

	Describe("when ordering and narrowing results", func() {
		It("should default to market cap descending with nulls last", func() {
			out, err := cp.Compile(&dsl.Rule{Filter: dsl.Node{And: []dsl.Node{cond("pe_ratio", "<", 15)}}})
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("ORDER BY c.market_cap DESC NULLS LAST"))
		})

		It("should honor an explicit sort", func() {
			rule := &dsl.Rule{
				Filter: dsl.Node{And: []dsl.Node{cond("pe_ratio", "<", 15)}},
				Sort:   &dsl.Sort{Field: "roe", Order: "desc"},
			}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("ORDER BY fq.roe DESC NULLS LAST"))
		})

		It("should pin a single ticker for alert compilation", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{cond("pe_ratio", "<", 15)}}}
			out, err := cp.CompileForTicker(rule, "INFY")
			Expect(err).To(BeNil())
			Expect(out.SQL).To(ContainSubstring("c.ticker = $2"))
			Expect(out.Params).To(Equal([]interface{}{15, "INFY", 100}))
		})
	})

	Describe("safety properties", func() {
		It("should match parameter count to placeholder count", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{
				cond("pe_ratio", "between", []interface{}{5, 25}),
				cond("sector", "in", []interface{}{"IT", "Auto", "FMCG"}),
				{Cond: &dsl.Cond{
					Field:    "net_income",
					Operator: ">",
					Value:    0,
					Period:   &dsl.Period{Type: dsl.LastNQuarters, N: 4, Aggregation: dsl.AggAll},
				}},
			}}}
			out, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(strings.Count(out.SQL, "$")).To(Equal(len(out.Params)))
		})

		It("should compile the same tree to byte-identical output", func() {
			rule := &dsl.Rule{
				Filter: dsl.Node{And: []dsl.Node{
					cond("market_cap", ">", 5000),
					{Or: []dsl.Node{cond("roe", ">", 15), cond("debt_to_equity", "<", 1)}},
				}},
				Sort: &dsl.Sort{Field: "market_cap", Order: "desc"},
			}
			a, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			b, err := cp.Compile(rule)
			Expect(err).To(BeNil())
			Expect(a.SQL).To(Equal(b.SQL))
			Expect(a.Params).To(Equal(b.Params))
		})

		It("should fail fast on unknown fields", func() {
			rule := &dsl.Rule{Filter: dsl.Node{And: []dsl.Node{cond("definitely_not_real", "<", 1)}}}
			_, err := cp.Compile(rule)
			Expect(err).To(MatchError(compiler.ErrUnknownField))
		})
	})
})
