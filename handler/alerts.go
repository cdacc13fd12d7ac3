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
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketscreen/ms-api/alerts"
)

var validKinds = map[string]bool{
	alerts.KindPriceThreshold: true,
	alerts.KindPriceChange:    true,
	alerts.KindFundamental:    true,
	alerts.KindEvent:          true,
	alerts.KindTechnical:      true,
	alerts.KindCustomDSL:      true,
}

// ListAlerts is GET /v1/alerts.
func ListAlerts(store *alerts.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := store.ListForUser(c.Context(), userID(c))
		if err != nil {
			log.Error().Stack().Err(err).Msg("could not list alerts")
			return fiber.ErrInternalServerError
		}
		if list == nil {
			list = []*alerts.Alert{}
		}
		return c.JSON(fiber.Map{"success": true, "data": list})
	}
}

// GetAlert is GET /v1/alerts/:id.
func GetAlert(store *alerts.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", "alert id must be a uuid")
		}
		a, err := store.Get(c.Context(), id)
		if err != nil {
			if errors.Is(err, alerts.ErrAlertNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if a.UserID != userID(c) {
			return fiber.ErrForbidden
		}
		return c.JSON(fiber.Map{"success": true, "data": a})
	}
}

// CreateAlert is POST /v1/alerts.
func CreateAlert(store *alerts.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var a alerts.Alert
		if err := json.Unmarshal(c.Body(), &a); err != nil {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", "request body is not valid JSON")
		}
		if msg := validateAlert(&a); msg != "" {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", msg)
		}
		a.UserID = userID(c)
		a.Ticker = strings.ToUpper(a.Ticker)
		if err := store.Create(c.Context(), &a); err != nil {
			return fiber.ErrInternalServerError
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": a})
	}
}

// UpdateAlert is PATCH /v1/alerts/:id.
func UpdateAlert(store *alerts.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", "alert id must be a uuid")
		}

		existing, err := store.Get(c.Context(), id)
		if err != nil {
			if errors.Is(err, alerts.ErrAlertNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if existing.UserID != userID(c) {
			return fiber.ErrForbidden
		}

		updated := *existing
		if err := json.Unmarshal(c.Body(), &updated); err != nil {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", "request body is not valid JSON")
		}
		updated.ID = id
		updated.UserID = existing.UserID
		updated.Ticker = strings.ToUpper(updated.Ticker)
		if msg := validateAlert(&updated); msg != "" {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", msg)
		}

		if err := store.Update(c.Context(), &updated); err != nil {
			if errors.Is(err, alerts.ErrAlertNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		return c.JSON(fiber.Map{"success": true, "data": updated})
	}
}

// DeleteAlert is DELETE /v1/alerts/:id.
func DeleteAlert(store *alerts.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return errorEnvelope(c, fiber.StatusBadRequest, "BAD_REQUEST", "alert id must be a uuid")
		}
		if err := store.Delete(c.Context(), id, userID(c)); err != nil {
			if errors.Is(err, alerts.ErrAlertNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		return c.JSON(fiber.Map{"success": true})
	}
}

func validateAlert(a *alerts.Alert) string {
	if !validKinds[a.Kind] {
		return "unknown alert kind"
	}
	switch a.Kind {
	case alerts.KindCustomDSL:
		if len(a.Condition.DSL) == 0 {
			return "custom_dsl alerts require a condition.dsl rule"
		}
		if a.Ticker == "" {
			return "custom_dsl alerts require a ticker"
		}
	case alerts.KindEvent:
		if a.Condition.Event == "" {
			return "event alerts require a condition.event"
		}
	default:
		if a.Ticker == "" {
			return "alerts require a ticker"
		}
		if a.Condition.Operator == "" {
			return "alerts require a condition.operator"
		}
	}
	return ""
}
