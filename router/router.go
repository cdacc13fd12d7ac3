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

package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marketscreen/ms-api/alerts"
	"github.com/marketscreen/ms-api/handler"
	"github.com/marketscreen/ms-api/marketdata"
	"github.com/marketscreen/ms-api/screener"
)

// Services are the wired dependencies the routes dispatch into.
type Services struct {
	Screener   *screener.Screener
	Alerts     *alerts.Store
	MarketData *marketdata.Store
}

// SetupRoutes setup router api
func SetupRoutes(app *fiber.App, svc *Services) {
	api := app.Group("/v1")
	api.Get("/", handler.Ping)

	// Screener
	api.Post("/screener", handler.RunScreen(svc.Screener))

	// Alerts
	alertGroup := api.Group("/alerts")
	alertGroup.Get("/", handler.ListAlerts(svc.Alerts))
	alertGroup.Get("/:id", handler.GetAlert(svc.Alerts))
	alertGroup.Post("/", handler.CreateAlert(svc.Alerts))
	alertGroup.Patch("/:id", handler.UpdateAlert(svc.Alerts))
	alertGroup.Delete("/:id", handler.DeleteAlert(svc.Alerts))

	// Market data
	markets := api.Group("/markets")
	markets.Get("/quote/:ticker", handler.GetQuote(svc.MarketData))
	markets.Get("/movers", handler.GetMovers(svc.MarketData))
	markets.Get("/companies", handler.SearchCompanies(svc.MarketData))
}
