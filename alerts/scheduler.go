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

package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/common"
	"github.com/marketscreen/ms-api/marketdata"
	"github.com/marketscreen/ms-api/notify"
)

// Scheduler drives alert evaluation on a fixed cadence. One scheduler
// runs per process; cycles never overlap, and a cycle that overruns the
// cadence causes the next tick to be skipped rather than queued.
type Scheduler struct {
	store   *Store
	eval    *Evaluator
	fetcher marketdata.Fetcher
	sink    notify.Sink

	cadence     time.Duration
	window      time.Duration
	maxParallel int
}

func NewScheduler(cat *catalog.Catalog, fetcher marketdata.Fetcher, sink notify.Sink) *Scheduler {
	cadence := time.Duration(viper.GetInt("scheduler.cadence_seconds")) * time.Second
	if cadence == 0 {
		cadence = 60 * time.Second
	}
	window := viper.GetDuration("scheduler.rate_limit_window")
	if window == 0 {
		window = 24 * time.Hour
	}
	maxParallel := viper.GetInt("scheduler.max_parallel_groups")
	if maxParallel == 0 {
		maxParallel = 32
	}
	return &Scheduler{
		store:       NewStore(),
		eval:        NewEvaluator(cat),
		fetcher:     fetcher,
		sink:        sink,
		cadence:     cadence,
		window:      window,
		maxParallel: maxParallel,
	}
}

// Run blocks until ctx is cancelled, evaluating alerts every cadence.
// SingletonMode keeps cycles from overlapping when one overruns.
func (s *Scheduler) Run(ctx context.Context) error {
	sched := gocron.NewScheduler(common.GetTimezone())
	_, err := sched.Every(int(s.cadence.Seconds())).Seconds().SingletonMode().Do(func() {
		if err := s.RunOnce(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("alert cycle failed")
		}
	})
	if err != nil {
		return err
	}
	sched.StartAsync()
	<-ctx.Done()
	sched.Stop()
	return ctx.Err()
}

// RunOnce executes a single evaluation cycle: load the working set,
// group by ticker, fetch bundles with bounded parallelism, evaluate.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	working, err := s.store.LoadActive(ctx, s.window)
	if err != nil {
		return err
	}
	if len(working) == 0 {
		return nil
	}

	groups := make(map[string][]*Alert)
	for _, a := range working {
		groups[a.Ticker] = append(groups[a.Ticker], a)
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.maxParallel)
	for ticker, group := range groups {
		ticker, group := ticker, group
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			s.evaluateGroup(gctx, ticker, group)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Int("NumAlerts", len(working)).Int("NumGroups", len(groups)).
		Dur("Elapsed", time.Since(start)).Msg("alert cycle complete")
	return nil
}

// evaluateGroup fetches the ticker's data bundle once and evaluates
// every alert in the group against it. Per-source fetch failures null
// that bundle member; per-alert failures are logged and do not abort the
// group.
func (s *Scheduler) evaluateGroup(ctx context.Context, ticker string, group []*Alert) {
	bundle := s.fetchBundle(ctx, ticker)
	for _, a := range group {
		triggered, reason, err := s.eval.Evaluate(ctx, a, bundle)
		if err != nil {
			log.Error().Stack().Err(err).Str("AlertID", a.ID.String()).Str("Kind", a.Kind).Msg("alert evaluation failed")
			_ = s.store.LogExecution(ctx, a.ID, false, "", err)
			continue
		}
		if triggered {
			s.fire(ctx, a, reason)
		} else {
			if err := s.store.MarkEvaluated(ctx, a.ID); err == nil {
				_ = s.store.LogExecution(ctx, a.ID, false, reason, nil)
			}
		}
	}
}

// fetchBundle loads quote, metadata and fundamentals in parallel. A
// tickerless group gets an empty bundle.
func (s *Scheduler) fetchBundle(ctx context.Context, ticker string) *Bundle {
	bundle := &Bundle{}
	if ticker == "" {
		return bundle
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		q, err := s.fetcher.Quote(ctx, ticker)
		if err != nil {
			log.Warn().Err(err).Str("Ticker", ticker).Msg("could not fetch quote")
			return
		}
		bundle.Quote = q
	}()
	go func() {
		defer wg.Done()
		m, err := s.fetcher.Metadata(ctx, ticker)
		if err != nil {
			log.Warn().Err(err).Str("Ticker", ticker).Msg("could not fetch metadata")
			return
		}
		bundle.Metadata = m
	}()
	go func() {
		defer wg.Done()
		f, err := s.fetcher.Fundamentals(ctx, ticker)
		if err != nil {
			log.Warn().Err(err).Str("Ticker", ticker).Msg("could not fetch fundamentals")
			return
		}
		bundle.Fundamentals = f
	}()
	wg.Wait()
	return bundle
}

// fire emits the notification and stamps the trigger. The notification
// is emitted before the stamp so a crash between the two re-notifies
// rather than silently dropping.
func (s *Scheduler) fire(ctx context.Context, a *Alert, reason string) {
	n := &notify.Notification{
		UserID:  a.UserID,
		AlertID: a.ID,
		Title:   "Alert triggered",
		Message: reason,
		Payload: map[string]interface{}{
			"ticker": a.Ticker,
			"kind":   a.Kind,
		},
	}
	if err := s.sink.Emit(ctx, n); err != nil {
		log.Error().Stack().Err(err).Str("AlertID", a.ID.String()).Msg("could not emit notification")
		return
	}
	if err := s.store.SaveNotification(ctx, n); err != nil {
		log.Warn().Err(err).Str("AlertID", a.ID.String()).Msg("could not persist notification")
	}
	if err := s.store.MarkTriggered(ctx, a.ID); err != nil {
		log.Error().Stack().Err(err).Str("AlertID", a.ID.String()).Msg("could not stamp trigger")
		return
	}
	_ = s.store.LogExecution(ctx, a.ID, true, reason, nil)
}
