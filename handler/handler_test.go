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

package handler_test

import (
	"io"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock"
	"github.com/spf13/viper"

	"github.com/marketscreen/ms-api/alerts"
	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/common"
	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/marketdata"
	"github.com/marketscreen/ms-api/middleware"
	"github.com/marketscreen/ms-api/router"
	"github.com/marketscreen/ms-api/screener"
)

func decodeBody(resp *http.Response) map[string]interface{} {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	Expect(err).To(BeNil())
	body := make(map[string]interface{})
	Expect(json.Unmarshal(raw, &body)).To(BeNil())
	return body
}

var _ = Describe("API", func() {
	var (
		app    *fiber.App
		dbPool pgxmock.PgxConnIface
		err    error
	)

	BeforeEach(func() {
		viper.Set("cache.local_size", 64)
		viper.Set("cache.redis", false)
		common.SetupCache()

		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		cat := catalog.Default()
		app = fiber.New()
		app.Use(middleware.NewRequestID())
		router.SetupRoutes(app, &router.Services{
			Screener:   screener.New(cat),
			Alerts:     alerts.NewStore(),
			MarketData: marketdata.NewStore(cat),
		})
	})

	Describe("GET /v1/", func() {
		It("should answer the ping", func() {
			req, _ := http.NewRequest("GET", "/v1/", nil)
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			body := decodeBody(resp)
			Expect(body["status"]).To(Equal("success"))
		})

		It("should echo the request id", func() {
			req, _ := http.NewRequest("GET", "/v1/", nil)
			req.Header.Set("X-Request-ID", "req-42")
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.Header.Get("X-Request-ID")).To(Equal("req-42"))
		})
	})

	Describe("POST /v1/screener", func() {
		It("should run a DSL screen", func() {
			dbPool.ExpectQuery("SELECT DISTINCT").
				WillReturnRows(pgxmock.NewRows([]string{"ticker", "name"}).AddRow("INFY", "Infosys"))

			req, _ := http.NewRequest("POST", "/v1/screener",
				strings.NewReader(`{"dsl":{"filter":{"and":[{"field":"pe_ratio","operator":"<","value":30}]}}}`))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			body := decodeBody(resp)
			Expect(body["success"]).To(BeTrue())
			Expect(body["count"]).To(BeEquivalentTo(1))
			metadata := body["metadata"].(map[string]interface{})
			Expect(metadata["requestId"]).NotTo(BeEmpty())
		})

		It("should reject a malformed body as UNPARSEABLE", func() {
			req, _ := http.NewRequest("POST", "/v1/screener", strings.NewReader(`not json`))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))

			body := decodeBody(resp)
			errObj := body["error"].(map[string]interface{})
			Expect(errObj["code"]).To(Equal("UNPARSEABLE"))
		})

		It("should reject a body carrying both query and dsl", func() {
			req, _ := http.NewRequest("POST", "/v1/screener",
				strings.NewReader(`{"query":"pe below 10","dsl":{"filter":{"and":[]}}}`))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("should return validation issues for a conflicting rule", func() {
			req, _ := http.NewRequest("POST", "/v1/screener",
				strings.NewReader(`{"dsl":{"filter":{"and":[
					{"field":"pe_ratio","operator":">","value":50},
					{"field":"pe_ratio","operator":"<","value":5}
				]}}}`))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))

			body := decodeBody(resp)
			errObj := body["error"].(map[string]interface{})
			Expect(errObj["code"]).To(Equal("VALIDATION"))
			Expect(errObj["issues"]).NotTo(BeEmpty())
		})

		It("should map execution failures to EXECUTION", func() {
			dbPool.ExpectQuery("SELECT DISTINCT").WillReturnError(io.ErrUnexpectedEOF)

			req, _ := http.NewRequest("POST", "/v1/screener",
				strings.NewReader(`{"dsl":{"filter":{"and":[{"field":"roe","operator":">","value":15}]}}}`))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusInternalServerError))

			body := decodeBody(resp)
			errObj := body["error"].(map[string]interface{})
			Expect(errObj["code"]).To(Equal("EXECUTION"))
		})
	})

	Describe("alert endpoints", func() {
		It("should reject an alert with an unknown kind", func() {
			req, _ := http.NewRequest("POST", "/v1/alerts/",
				strings.NewReader(`{"kind":"smoke_signal","ticker":"INFY"}`))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("should create a valid alert for the calling user", func() {
			dbPool.ExpectExec("INSERT INTO alerts").WillReturnResult(pgxmock.NewResult("INSERT", 1))

			req, _ := http.NewRequest("POST", "/v1/alerts/",
				strings.NewReader(`{"kind":"price_threshold","ticker":"infy","condition":{"operator":">","value":1500},"active":true}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-User-ID", "user-1")
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusCreated))

			body := decodeBody(resp)
			data := body["data"].(map[string]interface{})
			Expect(data["userId"]).To(Equal("user-1"))
			Expect(data["ticker"]).To(Equal("INFY"))
		})

		It("should 400 on a non-uuid alert id", func() {
			req, _ := http.NewRequest("DELETE", "/v1/alerts/not-a-uuid", nil)
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("market endpoints", func() {
		It("should reject a bad movers direction", func() {
			req, _ := http.NewRequest("GET", "/v1/markets/movers?direction=sideways", nil)
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("should return the movers board", func() {
			dbPool.ExpectQuery("SELECT c.ticker, c.name").
				WillReturnRows(pgxmock.NewRows([]string{"ticker", "name", "close", "change_pct"}).
					AddRow("INFY", "Infosys", 1520.5, 4.2))

			req, _ := http.NewRequest("GET", "/v1/markets/movers", nil)
			resp, err := app.Test(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			body := decodeBody(resp)
			Expect(body["success"]).To(BeTrue())
			results := body["results"].([]interface{})
			Expect(results).To(HaveLen(1))
		})
	})
})
