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

package notify

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// NATS publishes notifications onto a JetStream subject for the delivery
// workers to consume.
type NATS struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATS connects to the configured NATS server and prepares the
// JetStream context.
func NewNATS() (*NATS, error) {
	url := viper.GetString("nats.server")
	credentialsFile := viper.GetString("nats.credentials")
	log.Info().Str("NATSServer", url).Str("Credentials", credentialsFile).Msg("connecting to NATS server")

	var opts []nats.Option
	if credentialsFile != "" {
		opts = append(opts, nats.UserCredentials(credentialsFile))
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		log.Error().Err(err).Msg("could not connect to NATS server")
		return nil, err
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		log.Error().Err(err).Msg("could not create jetstream context")
		return nil, err
	}

	subject := viper.GetString("nats.alerts_subject")
	if subject == "" {
		subject = "alerts.notifications"
	}
	return &NATS{conn: conn, js: js, subject: subject}, nil
}

func (s *NATS) Emit(_ context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Msg("could not serialize notification to JSON")
		return err
	}
	if _, err := s.js.Publish(s.subject, payload); err != nil {
		log.Error().Err(err).Str("Subject", s.subject).Msg("could not publish notification")
		return err
	}
	return nil
}

// Close drains the underlying connection.
func (s *NATS) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
