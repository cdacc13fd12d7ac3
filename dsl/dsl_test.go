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

package dsl_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/marketscreen/ms-api/dsl"
)

var _ = Describe("ParseRule", func() {
	It("should decode a rule with logical nodes and conditions", func() {
		rule, err := dsl.ParseRule([]byte(`{
			"filter": {"and": [
				{"field": "pe_ratio", "operator": "<", "value": 20},
				{"or": [
					{"field": "roe", "operator": ">", "value": 15},
					{"field": "roa", "operator": ">", "value": 10}
				]}
			]},
			"sort": {"field": "market_cap", "order": "desc"},
			"limit": 25
		}`))
		Expect(err).To(BeNil())
		Expect(rule.Filter.And).To(HaveLen(2))
		Expect(rule.Filter.And[0].Cond.Field).To(Equal("pe_ratio"))
		Expect(rule.Filter.And[1].Or).To(HaveLen(2))
		Expect(rule.Sort.Field).To(Equal("market_cap"))
		Expect(rule.Limit).To(Equal(25))
	})

	It("should reject input that is not a JSON object", func() {
		_, err := dsl.ParseRule([]byte(`[1,2,3]`))
		Expect(errors.Is(err, dsl.ErrNotObject)).To(BeTrue())
	})

	It("should report a missing filter", func() {
		_, err := dsl.ParseRule([]byte(`{"limit": 10}`))
		Expect(errors.Is(err, dsl.ErrMissingFilter)).To(BeTrue())
	})

	It("should record unknown top-level keys in sorted order", func() {
		rule, err := dsl.ParseRule([]byte(`{"filter":{"and":[]},"srot":1,"colour":"red"}`))
		Expect(err).To(BeNil())
		Expect(rule.UnknownKeys).To(Equal([]string{"colour", "srot"}))
	})

	It("should carry the legacy timeframe key into the period", func() {
		rule, err := dsl.ParseRule([]byte(`{"filter":{"and":[
			{"field":"revenue","operator":">","value":0,
			 "timeframe":{"type":"last_n_quarters","n":4,"aggregation":"all"}}
		]}}`))
		Expect(err).To(BeNil())
		cond := rule.Filter.And[0].Cond
		Expect(cond.Period).NotTo(BeNil())
		Expect(cond.Period.Type).To(Equal(dsl.LastNQuarters))
		Expect(cond.Period.N).To(Equal(4))
	})

	It("should prefer period over timeframe when both are present", func() {
		rule, err := dsl.ParseRule([]byte(`{"filter":{"and":[
			{"field":"revenue","operator":">","value":0,
			 "period":{"type":"last_n_years","n":3},
			 "timeframe":{"type":"last_n_quarters","n":8}}
		]}}`))
		Expect(err).To(BeNil())
		Expect(rule.Filter.And[0].Cond.Period.Type).To(Equal(dsl.LastNYears))
	})

	It("should decode a not node", func() {
		rule, err := dsl.ParseRule([]byte(`{"filter":{"not":
			{"field":"sector","operator":"=","value":"Energy"}}}`))
		Expect(err).To(BeNil())
		Expect(rule.Filter.Not).NotTo(BeNil())
		Expect(rule.Filter.Not.Cond.Field).To(Equal("sector"))
	})
})

var _ = Describe("Node", func() {
	Describe("Depth", func() {
		It("should report zero for a bare condition", func() {
			node := dsl.Node{Cond: &dsl.Cond{Field: "roe", Operator: ">", Value: 15}}
			Expect(node.Depth()).To(Equal(0))
		})

		It("should count each logical level", func() {
			rule, err := dsl.ParseRule([]byte(`{"filter":{"and":[{"or":[{"and":[
				{"field":"roe","operator":">","value":15}
			]}]}]}}`))
			Expect(err).To(BeNil())
			Expect(rule.Filter.Depth()).To(Equal(3))
		})

		It("should count a not wrapper as a level", func() {
			rule, err := dsl.ParseRule([]byte(`{"filter":{"not":
				{"field":"roe","operator":">","value":15}}}`))
			Expect(err).To(BeNil())
			Expect(rule.Filter.Depth()).To(Equal(1))
		})
	})

	Describe("IsEmpty", func() {
		It("should report the degenerate empty filter", func() {
			rule, err := dsl.ParseRule([]byte(`{"filter":{}}`))
			Expect(err).To(BeNil())
			Expect(rule.Filter.IsEmpty()).To(BeTrue())
		})

		It("should not report a populated node as empty", func() {
			rule, err := dsl.ParseRule([]byte(`{"filter":{"and":[
				{"field":"roe","operator":">","value":15}]}}`))
			Expect(err).To(BeNil())
			Expect(rule.Filter.IsEmpty()).To(BeFalse())
		})
	})

	It("should round-trip a condition through the wire format", func() {
		original, err := dsl.ParseRule([]byte(`{"filter":{"and":[
			{"field":"net_income","operator":"increasing",
			 "period":{"type":"last_n_quarters","n":4,"aggregation":"trend"},
			 "trend_config":{"direction":"up","min_periods":2}}
		]}}`))
		Expect(err).To(BeNil())
		encoded, err := original.Filter.MarshalJSON()
		Expect(err).To(BeNil())

		var decoded dsl.Node
		Expect(decoded.UnmarshalJSON(encoded)).To(Succeed())
		Expect(decoded.And).To(HaveLen(1))
		cond := decoded.And[0].Cond
		Expect(cond.Field).To(Equal("net_income"))
		Expect(cond.Operator).To(Equal("increasing"))
		Expect(cond.Period.Aggregation).To(Equal(dsl.AggTrend))
		Expect(cond.TrendConfig.MinPeriods).To(Equal(2))
	})
})

var _ = Describe("Fingerprint", func() {
	It("should be identical for identical rules", func() {
		raw := `{"filter":{"and":[{"field":"pe_ratio","operator":"<","value":20}]},
			"sort":{"field":"market_cap","order":"desc"},"limit":50}`
		a, err := dsl.ParseRule([]byte(raw))
		Expect(err).To(BeNil())
		b, err := dsl.ParseRule([]byte(raw))
		Expect(err).To(BeNil())
		Expect(a.Fingerprint()).To(Equal(b.Fingerprint()))
	})

	It("should differ when the filter differs", func() {
		a, err := dsl.ParseRule([]byte(`{"filter":{"and":[{"field":"pe_ratio","operator":"<","value":20}]}}`))
		Expect(err).To(BeNil())
		b, err := dsl.ParseRule([]byte(`{"filter":{"and":[{"field":"pe_ratio","operator":"<","value":25}]}}`))
		Expect(err).To(BeNil())
		Expect(a.Fingerprint()).NotTo(Equal(b.Fingerprint()))
	})

	It("should differ when only the sort differs", func() {
		base := `{"filter":{"and":[{"field":"roe","operator":">","value":15}]}`
		a, err := dsl.ParseRule([]byte(base + `,"sort":{"field":"roe","order":"asc"}}`))
		Expect(err).To(BeNil())
		b, err := dsl.ParseRule([]byte(base + `,"sort":{"field":"roe","order":"desc"}}`))
		Expect(err).To(BeNil())
		Expect(a.Fingerprint()).NotTo(Equal(b.Fingerprint()))
	})
})
