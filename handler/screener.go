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

package handler

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/marketscreen/ms-api/screener"
)

type screenRequest struct {
	Query string          `json:"query,omitempty"`
	DSL   json.RawMessage `json:"dsl,omitempty"`
}

// RunScreen is POST /v1/screener. The body carries either a natural
// language query or a structured rule; never both.
func RunScreen(scr *screener.Screener) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req screenRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return errorEnvelope(c, fiber.StatusBadRequest, "UNPARSEABLE", "request body is not valid JSON")
		}
		if req.Query != "" && len(req.DSL) > 0 {
			return errorEnvelope(c, fiber.StatusBadRequest, "UNPARSEABLE", "send either query or dsl, not both")
		}

		res, err := scr.Run(c.Context(), &screener.Request{Query: req.Query, DSL: req.DSL})
		if err != nil {
			var parseErr *screener.ParseError
			if errors.As(err, &parseErr) {
				return errorEnvelope(c, fiber.StatusBadRequest, "UNPARSEABLE", parseErr.Error())
			}
			var valErr *screener.ValidationError
			if errors.As(err, &valErr) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"success": false,
					"error": fiber.Map{
						"code":    "VALIDATION",
						"message": "rule failed validation",
						"issues":  valErr.Issues,
					},
					"metadata": fiber.Map{"requestId": requestID(c)},
				})
			}
			log.Error().Stack().Err(err).Str("RequestID", requestID(c)).Msg("screener execution failed")
			return errorEnvelope(c, fiber.StatusInternalServerError, "EXECUTION", "query execution failed")
		}

		return c.JSON(fiber.Map{
			"success": true,
			"results": res.Rows,
			"count":   res.Count,
			"execution": fiber.Map{
				"time":      fmt.Sprintf("%dms", res.Duration.Milliseconds()),
				"fromCache": res.FromCache,
			},
			"query": fiber.Map{
				"original": req.Query,
				"dsl":      res.Rule,
			},
			"warnings": res.Warnings,
			"metadata": fiber.Map{"requestId": requestID(c)},
		})
	}
}
