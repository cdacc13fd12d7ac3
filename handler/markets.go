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
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/marketscreen/ms-api/marketdata"
)

// GetQuote is GET /v1/markets/quote/:ticker.
func GetQuote(store *marketdata.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ticker := strings.ToUpper(c.Params("ticker"))
		if ticker == "" {
			return fiber.ErrBadRequest
		}
		q, err := store.Quote(c.Context(), ticker)
		if err != nil {
			if errors.Is(err, marketdata.ErrNotFound) {
				return fiber.ErrNotFound
			}
			log.Error().Stack().Err(err).Str("Ticker", ticker).Msg("could not load quote")
			return fiber.ErrInternalServerError
		}
		return c.JSON(fiber.Map{"success": true, "results": q})
	}
}

// GetMovers is GET /v1/markets/movers?direction=gainers&limit=10.
func GetMovers(store *marketdata.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		direction := c.Query("direction", "gainers")
		if direction != "gainers" && direction != "losers" {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", "direction must be gainers or losers")
		}
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", "limit must be an integer")
		}
		movers, err := store.Movers(c.Context(), direction, limit)
		if err != nil {
			log.Error().Stack().Err(err).Msg("could not load movers")
			return fiber.ErrInternalServerError
		}
		if movers == nil {
			movers = []marketdata.Mover{}
		}
		return c.JSON(fiber.Map{"success": true, "results": movers})
	}
}

// SearchCompanies is GET /v1/markets/companies. Query parameters other
// than limit are treated as [op].[value] filters, e.g. ?sector=eq.Energy.
func SearchCompanies(store *marketdata.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := 100
		where := make(map[string]string)
		var badParam error
		c.Context().QueryArgs().VisitAll(func(key, value []byte) {
			k := string(key)
			if k == "limit" {
				var err error
				if limit, err = strconv.Atoi(string(value)); err != nil {
					badParam = err
				}
				return
			}
			where[k] = string(value)
		})
		if badParam != nil {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", "limit must be an integer")
		}

		results, err := store.SearchCompanies(c.Context(), where, limit)
		if err != nil {
			log.Warn().Err(err).Msg("company search failed")
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", err.Error())
		}
		if results == nil {
			results = []map[string]interface{}{}
		}
		return c.JSON(fiber.Map{"success": true, "results": results})
	}
}
