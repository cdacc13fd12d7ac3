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

// Package notify is the single out-edge for alert delivery. The core
// emits notification records; the channel that carries them to the user
// (push, email, webhook) lives on the other side of the sink.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Notification is one alert-triggered message.
type Notification struct {
	UserID  string                 `json:"user_id"`
	AlertID uuid.UUID              `json:"alert_id"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Sink delivers notifications.
type Sink interface {
	Emit(ctx context.Context, n *Notification) error
}

// Memory is an in-process sink used by tests and the CLI dry-run mode.
type Memory struct {
	mu   sync.Mutex
	sent []Notification
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Emit(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *n)
	return nil
}

// Sent returns a copy of everything emitted so far.
func (m *Memory) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
