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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marketscreen/ms-api/alerts"
	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/common"
	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/marketdata"
	"github.com/marketscreen/ms-api/notify"
)

var alertsOnce bool

func init() {
	alertsCmd.Flags().BoolVar(&alertsOnce, "once", false, "Run a single evaluation cycle and exit")
	rootCmd.AddCommand(alertsCmd)
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Run the alert scheduler",
	Long:  `Evaluate alert subscriptions on a fixed cadence without the HTTP server`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		common.SetupCache()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		var sink notify.Sink
		memory := notify.NewMemory()
		if viper.GetString("nats.server") != "" {
			natsSink, err := notify.NewNATS()
			if err != nil {
				log.Fatal().Err(err).Msg("could not connect to NATS")
			}
			defer natsSink.Close()
			sink = natsSink
		} else {
			log.Warn().Msg("nats.server not configured; notifications stay in-process")
			sink = memory
		}

		cat := catalog.Default()
		sched := alerts.NewScheduler(cat, marketdata.NewStore(cat), sink)

		if alertsOnce {
			if err := sched.RunOnce(ctx); err != nil {
				log.Fatal().Err(err).Msg("alert cycle failed")
			}
			for _, n := range memory.Sent() {
				fmt.Printf("%s: %s\n", n.AlertID, n.Message)
			}
			return
		}

		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			log.Fatal().Err(err).Msg("alert scheduler stopped")
		}
	},
}
