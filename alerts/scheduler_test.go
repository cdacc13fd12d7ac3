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
	"github.com/spf13/viper"

	"github.com/marketscreen/ms-api/alerts"
	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/marketdata"
	"github.com/marketscreen/ms-api/notify"
)

// stubFetcher returns canned bundles and lets individual sources fail.
type stubFetcher struct {
	quote    *marketdata.Quote
	meta     *marketdata.Metadata
	fund     marketdata.Fundamentals
	quoteErr error
	metaErr  error
	fundErr  error
}

func (f *stubFetcher) Quote(_ context.Context, _ string) (*marketdata.Quote, error) {
	return f.quote, f.quoteErr
}

func (f *stubFetcher) Metadata(_ context.Context, _ string) (*marketdata.Metadata, error) {
	return f.meta, f.metaErr
}

func (f *stubFetcher) Fundamentals(_ context.Context, _ string) (marketdata.Fundamentals, error) {
	return f.fund, f.fundErr
}

func alertRows(ids ...uuid.UUID) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id", "user_id", "ticker", "kind", "condition", "frequency",
		"active", "last_triggered", "trigger_count", "last_evaluated", "created_at", "expires_at"})
	for _, id := range ids {
		rows.AddRow(id, "user-1", "INFY", alerts.KindFundamental,
			[]byte(`{"metric":"pe_ratio","operator":"<","value":20}`), "",
			true, nil, 0, nil, time.Now(), nil)
	}
	return rows
}

var _ = Describe("Scheduler", func() {
	var (
		dbPool  pgxmock.PgxConnIface
		sink    *notify.Memory
		fetcher *stubFetcher
		sched   *alerts.Scheduler
		err     error
	)

	BeforeEach(func() {
		viper.Set("scheduler.cadence_seconds", 60)
		viper.Set("scheduler.rate_limit_window", "24h")
		viper.Set("scheduler.max_parallel_groups", 4)

		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		sink = notify.NewMemory()
		fetcher = &stubFetcher{fund: marketdata.Fundamentals{"pe_ratio": 18}}
		sched = alerts.NewScheduler(catalog.Default(), fetcher, sink)
	})

	Describe("when a fundamental condition is satisfied", func() {
		It("should notify once and rate-limit the next cycle", func() {
			id := uuid.New()
			dbPool.ExpectQuery("SELECT (.+) FROM alerts WHERE active").WillReturnRows(alertRows(id))
			dbPool.ExpectExec("INSERT INTO notifications").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("UPDATE alerts SET last_triggered").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			dbPool.ExpectExec("INSERT INTO alert_executions").WillReturnResult(pgxmock.NewResult("INSERT", 1))

			Expect(sched.RunOnce(context.Background())).To(BeNil())
			Expect(sink.Sent()).To(HaveLen(1))
			Expect(sink.Sent()[0].AlertID).To(Equal(id))
			Expect(sink.Sent()[0].Payload["ticker"]).To(Equal("INFY"))

			// second cycle: the trigger stamp keeps the alert out of
			// the working set
			dbPool.ExpectQuery("SELECT (.+) FROM alerts WHERE active").WillReturnRows(alertRows())
			Expect(sched.RunOnce(context.Background())).To(BeNil())
			Expect(sink.Sent()).To(HaveLen(1))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Describe("when the condition does not hold", func() {
		It("should stamp the evaluation without notifying", func() {
			fetcher.fund = marketdata.Fundamentals{"pe_ratio": 35}
			dbPool.ExpectQuery("SELECT (.+) FROM alerts WHERE active").WillReturnRows(alertRows(uuid.New()))
			dbPool.ExpectExec("UPDATE alerts SET last_evaluated").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			dbPool.ExpectExec("INSERT INTO alert_executions").WillReturnResult(pgxmock.NewResult("INSERT", 1))

			Expect(sched.RunOnce(context.Background())).To(BeNil())
			Expect(sink.Sent()).To(BeEmpty())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Describe("when every data source fails", func() {
		It("should not trigger anything", func() {
			fetcher.quoteErr = errors.New("quote feed down")
			fetcher.metaErr = errors.New("metadata feed down")
			fetcher.fundErr = errors.New("fundamentals feed down")
			fetcher.quote = nil
			fetcher.meta = nil
			fetcher.fund = nil

			dbPool.ExpectQuery("SELECT (.+) FROM alerts WHERE active").WillReturnRows(alertRows(uuid.New()))
			dbPool.ExpectExec("UPDATE alerts SET last_evaluated").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			dbPool.ExpectExec("INSERT INTO alert_executions").WillReturnResult(pgxmock.NewResult("INSERT", 1))

			Expect(sched.RunOnce(context.Background())).To(BeNil())
			Expect(sink.Sent()).To(BeEmpty())
		})
	})

	Describe("when there is nothing to evaluate", func() {
		It("should complete without touching the fetcher", func() {
			dbPool.ExpectQuery("SELECT (.+) FROM alerts WHERE active").WillReturnRows(alertRows())
			Expect(sched.RunOnce(context.Background())).To(BeNil())
			Expect(sink.Sent()).To(BeEmpty())
		})
	})

	Describe("when the working set cannot be loaded", func() {
		It("should surface the error", func() {
			dbPool.ExpectQuery("SELECT (.+) FROM alerts WHERE active").WillReturnError(errors.New("connection reset"))
			Expect(sched.RunOnce(context.Background())).NotTo(BeNil())
		})
	})
})
