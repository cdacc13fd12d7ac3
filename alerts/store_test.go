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

package alerts_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock"

	"github.com/marketscreen/ms-api/alerts"
	"github.com/marketscreen/ms-api/database"
)

var _ = Describe("Store", func() {
	var (
		dbPool pgxmock.PgxConnIface
		store  *alerts.Store
		ctx    context.Context
		err    error
	)

	BeforeEach(func() {
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
		store = alerts.NewStore()
		ctx = context.Background()
	})

	Describe("Create", func() {
		It("should assign an id and insert the row", func() {
			dbPool.ExpectExec("INSERT INTO alerts").WillReturnResult(pgxmock.NewResult("INSERT", 1))

			a := &alerts.Alert{UserID: "user-1", Ticker: "INFY", Kind: alerts.KindPriceThreshold,
				Condition: alerts.Condition{Operator: ">", Value: 1500}, Active: true}
			Expect(store.Create(ctx, a)).To(BeNil())
			Expect(a.ID).NotTo(Equal(uuid.Nil))
			Expect(a.CreatedAt).NotTo(BeZero())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Describe("Get", func() {
		It("should load and decode the condition", func() {
			id := uuid.New()
			dbPool.ExpectQuery("SELECT (.+) FROM alerts WHERE id").
				WithArgs(id).
				WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "ticker", "kind", "condition",
					"frequency", "active", "last_triggered", "trigger_count", "last_evaluated", "created_at", "expires_at"}).
					AddRow(id, "user-1", "INFY", alerts.KindFundamental,
						[]byte(`{"metric":"roe","operator":">","value":18}`), "",
						true, nil, 2, nil, time.Now(), nil))

			a, err := store.Get(ctx, id)
			Expect(err).To(BeNil())
			Expect(a.Condition.Metric).To(Equal("roe"))
			Expect(a.TriggerCount).To(Equal(2))
		})

		It("should map a missing row to ErrAlertNotFound", func() {
			id := uuid.New()
			dbPool.ExpectQuery("SELECT (.+) FROM alerts WHERE id").
				WithArgs(id).
				WillReturnRows(pgxmock.NewRows([]string{"id"}))

			_, err := store.Get(ctx, id)
			Expect(errors.Is(err, alerts.ErrAlertNotFound)).To(BeTrue())
		})
	})

	Describe("Update", func() {
		It("should return ErrAlertNotFound when no row matches", func() {
			dbPool.ExpectExec("UPDATE alerts SET ticker").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

			a := &alerts.Alert{ID: uuid.New(), UserID: "user-1", Kind: alerts.KindPriceThreshold}
			Expect(errors.Is(store.Update(ctx, a), alerts.ErrAlertNotFound)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("should delete a row owned by the user", func() {
			id := uuid.New()
			dbPool.ExpectExec("DELETE FROM alerts").
				WithArgs(id, "user-1").
				WillReturnResult(pgxmock.NewResult("DELETE", 1))

			Expect(store.Delete(ctx, id, "user-1")).To(BeNil())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("should not delete another user's row", func() {
			dbPool.ExpectExec("DELETE FROM alerts").WillReturnResult(pgxmock.NewResult("DELETE", 0))
			Expect(errors.Is(store.Delete(ctx, uuid.New(), "user-2"), alerts.ErrAlertNotFound)).To(BeTrue())
		})
	})

	Describe("ListForUser", func() {
		It("should return every subscription for the user", func() {
			dbPool.ExpectQuery("SELECT (.+) FROM alerts WHERE user_id").
				WithArgs("user-1").
				WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "ticker", "kind", "condition",
					"frequency", "active", "last_triggered", "trigger_count", "last_evaluated", "created_at", "expires_at"}).
					AddRow(uuid.New(), "user-1", "INFY", alerts.KindPriceThreshold, []byte(`{}`), "",
						true, nil, 0, nil, time.Now(), nil).
					AddRow(uuid.New(), "user-1", "TCS", alerts.KindTechnical, []byte(`{}`), "",
						false, nil, 1, nil, time.Now(), nil))

			list, err := store.ListForUser(ctx, "user-1")
			Expect(err).To(BeNil())
			Expect(list).To(HaveLen(2))
			Expect(list[1].Ticker).To(Equal("TCS"))
		})
	})
})
