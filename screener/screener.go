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

// Package screener runs the full pipeline: natural language or raw DSL
// in, screened instrument rows out. It owns the orchestration order
// (translate, validate, compile, execute) and the result cache; the
// stages themselves live in their own packages.
package screener

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/common"
	"github.com/marketscreen/ms-api/compiler"
	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/dsl"
	"github.com/marketscreen/ms-api/translator"
	"github.com/marketscreen/ms-api/validator"
)

// ParseError wraps a DSL deserialization failure; surfaces as 400
// UNPARSEABLE.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse query: %s", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError carries the validator's blocking issues; surfaces as
// 400 VALIDATION.
type ValidationError struct {
	Issues []validator.Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("query failed validation with %d issue(s)", len(e.Issues))
}

// Request is one screener invocation: either free-form text or a raw
// DSL document.
type Request struct {
	Query string          `json:"query"`
	DSL   json.RawMessage `json:"dsl"`
}

// Result is the screened row set plus everything the response envelope
// reports about how it was produced.
type Result struct {
	Rows      []map[string]interface{} `json:"rows"`
	Count     int                      `json:"count"`
	Rule      *dsl.Rule                `json:"rule"`
	Warnings  []validator.Issue        `json:"warnings,omitempty"`
	Duration  time.Duration            `json:"duration"`
	FromCache bool                     `json:"fromCache"`
}

type Screener struct {
	cat *catalog.Catalog
	tr  *translator.Translator
	val *validator.Validator
	cp  *compiler.Compiler
}

func New(cat *catalog.Catalog) *Screener {
	return &Screener{
		cat: cat,
		tr:  translator.New(cat),
		val: validator.New(cat),
		cp:  compiler.New(cat),
	}
}

// Run executes a screener request end to end.
func (s *Screener) Run(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	rule, err := s.buildRule(req)
	if err != nil {
		return nil, err
	}

	vres := s.val.Validate(rule)
	if !vres.Valid() {
		return nil, &ValidationError{Issues: vres.Errors}
	}

	result := &Result{Rule: rule, Warnings: vres.Warnings}

	cacheKey := "screener:" + rule.Fingerprint()
	if cached, err := common.CacheGet(cacheKey); err == nil {
		if err := json.Unmarshal(cached, &result.Rows); err == nil {
			result.Count = len(result.Rows)
			result.FromCache = true
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	compiled, err := s.cp.Compile(rule)
	if err != nil {
		log.Error().Stack().Err(err).Str("Fingerprint", rule.Fingerprint()).Msg("compilation failed")
		return nil, err
	}

	rows, err := s.execute(ctx, compiled)
	if err != nil {
		return nil, err
	}

	if len(compiled.Metadata.TrendConditions) > 0 {
		rows, err = s.applyTrendFilters(ctx, rows, compiled.Metadata.TrendConditions)
		if err != nil {
			return nil, err
		}
	}

	result.Rows = rows
	result.Count = len(rows)
	result.Duration = time.Since(start)

	if encoded, err := json.Marshal(rows); err == nil {
		if err := common.CacheSet(cacheKey, encoded); err != nil {
			log.Warn().Err(err).Msg("could not cache screener result")
		}
	}

	return result, nil
}

func (s *Screener) buildRule(req *Request) (*dsl.Rule, error) {
	if len(req.DSL) > 0 {
		rule, err := dsl.ParseRule(req.DSL)
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		return rule, nil
	}
	return s.tr.Translate(req.Query), nil
}

// execute runs the compiled statement and maps every row into a column
// name keyed map.
func (s *Screener) execute(ctx context.Context, compiled *compiler.Compiled) ([]map[string]interface{}, error) {
	rows, err := database.Pool().Query(ctx, compiled.SQL, compiled.Params...)
	if err != nil {
		log.Error().Stack().Err(err).Str("SQL", compiled.SQL).Msg("screener query failed")
		return nil, err
	}
	defer rows.Close()

	out := make([]map[string]interface{}, 0, 16)
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			log.Error().Stack().Err(err).Msg("could not read screener row")
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		log.Error().Stack().Err(err).Msg("screener row iteration failed")
		return nil, err
	}
	return out, nil
}
