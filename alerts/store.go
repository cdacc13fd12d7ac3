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
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"

	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/notify"
)

var ErrAlertNotFound = errors.New("alerts: not found")

const alertColumns = "id, user_id, ticker, kind, condition, frequency, active, last_triggered, trigger_count, last_evaluated, created_at, expires_at"

// Store reads and writes alert subscriptions, execution log entries, and
// notification records.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// LoadActive returns the working set for one scheduler cycle: active,
// unexpired subscriptions outside their rate-limit window.
func (s *Store) LoadActive(ctx context.Context, window time.Duration) ([]*Alert, error) {
	cutoff := time.Now().Add(-window)
	rows, err := database.Pool().Query(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE active = true AND (expires_at IS NULL OR expires_at > now()) AND (last_triggered IS NULL OR last_triggered < $1)",
		cutoff)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not load active alerts")
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ListForUser returns every subscription owned by a user.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Alert, error) {
	rows, err := database.Pool().Query(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		log.Error().Stack().Err(err).Str("UserID", userID).Msg("could not list alerts")
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// Get loads one subscription by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	row := database.Pool().QueryRow(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE id = $1", id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return alert, nil
}

// Create inserts a subscription, assigning its id and creation time.
func (s *Store) Create(ctx context.Context, a *Alert) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cond, err := json.Marshal(a.Condition)
	if err != nil {
		return err
	}
	_, err = database.Pool().Exec(ctx,
		"INSERT INTO alerts (id, user_id, ticker, kind, condition, frequency, active, trigger_count, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)",
		a.ID, a.UserID, a.Ticker, a.Kind, cond, a.Frequency, a.Active, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		log.Error().Stack().Err(err).Str("UserID", a.UserID).Msg("could not create alert")
	}
	return err
}

// Update rewrites the user-editable columns of a subscription.
func (s *Store) Update(ctx context.Context, a *Alert) error {
	cond, err := json.Marshal(a.Condition)
	if err != nil {
		return err
	}
	tag, err := database.Pool().Exec(ctx,
		"UPDATE alerts SET ticker = $1, kind = $2, condition = $3, frequency = $4, active = $5, expires_at = $6 WHERE id = $7 AND user_id = $8",
		a.Ticker, a.Kind, cond, a.Frequency, a.Active, a.ExpiresAt, a.ID, a.UserID)
	if err != nil {
		log.Error().Stack().Err(err).Str("AlertID", a.ID.String()).Msg("could not update alert")
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Delete removes a subscription owned by the user.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := database.Pool().Exec(ctx,
		"DELETE FROM alerts WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		log.Error().Stack().Err(err).Str("AlertID", id.String()).Msg("could not delete alert")
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// MarkTriggered stamps a successful trigger: last_triggered and
// last_evaluated move to now, trigger_count increments.
func (s *Store) MarkTriggered(ctx context.Context, id uuid.UUID) error {
	_, err := database.Pool().Exec(ctx,
		"UPDATE alerts SET last_triggered = now(), last_evaluated = now(), trigger_count = trigger_count + 1 WHERE id = $1", id)
	if err != nil {
		log.Error().Stack().Err(err).Str("AlertID", id.String()).Msg("could not mark alert triggered")
	}
	return err
}

// MarkEvaluated stamps a non-triggering evaluation.
func (s *Store) MarkEvaluated(ctx context.Context, id uuid.UUID) error {
	_, err := database.Pool().Exec(ctx,
		"UPDATE alerts SET last_evaluated = now() WHERE id = $1", id)
	if err != nil {
		log.Error().Stack().Err(err).Str("AlertID", id.String()).Msg("could not mark alert evaluated")
	}
	return err
}

// LogExecution appends one row to the evaluation audit log.
func (s *Store) LogExecution(ctx context.Context, id uuid.UUID, triggered bool, reason string, evalErr error) error {
	errText := ""
	if evalErr != nil {
		errText = evalErr.Error()
	}
	_, err := database.Pool().Exec(ctx,
		"INSERT INTO alert_executions (alert_id, triggered, reason, error, executed_at) VALUES ($1, $2, $3, $4, now())",
		id, triggered, reason, errText)
	if err != nil {
		log.Warn().Err(err).Str("AlertID", id.String()).Msg("could not log alert execution")
	}
	return err
}

// SaveNotification persists an emitted notification for the user's
// in-app feed.
func (s *Store) SaveNotification(ctx context.Context, n *notify.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}
	_, err = database.Pool().Exec(ctx,
		"INSERT INTO notifications (user_id, alert_id, title, message, payload, created_at) VALUES ($1, $2, $3, $4, $5, now())",
		n.UserID, n.AlertID, n.Title, n.Message, payload)
	if err != nil {
		log.Error().Stack().Err(err).Str("AlertID", n.AlertID.String()).Msg("could not save notification")
	}
	return err
}

func scanAlerts(rows pgx.Rows) ([]*Alert, error) {
	var out []*Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var cond []byte
	err := row.Scan(&a.ID, &a.UserID, &a.Ticker, &a.Kind, &cond, &a.Frequency,
		&a.Active, &a.LastTriggered, &a.TriggerCount, &a.LastEvaluated, &a.CreatedAt, &a.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if len(cond) > 0 {
		if err := json.Unmarshal(cond, &a.Condition); err != nil {
			return nil, err
		}
	}
	return &a, nil
}
