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
	"os"
	"os/signal"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marketscreen/ms-api/alerts"
	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/common"
	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/marketdata"
	"github.com/marketscreen/ms-api/middleware"
	"github.com/marketscreen/ms-api/notify"
	"github.com/marketscreen/ms-api/observability/opentelemetry"
	"github.com/marketscreen/ms-api/router"
	"github.com/marketscreen/ms-api/screener"
)

func init() {
	viper.BindEnv("server.port", "PORT")
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run application server on")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	viper.BindEnv("scheduler.enabled", "MS_SCHEDULER_ENABLED")
	serveCmd.Flags().Bool("scheduler", true, "Run the alert scheduler inside the server process")
	viper.BindPFlag("scheduler.enabled", serveCmd.Flags().Lookup("scheduler"))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ms-api server",
	Long:  `Run HTTP server that implements the Market Screen API`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		common.SetupCache()
		log.Info().Msg("Initialized logging")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if viper.GetString("otlp.endpoint") != "" {
			shutdown, err := opentelemetry.Setup()
			if err != nil {
				log.Fatal().Err(err).Msg("could not initialize tracing")
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Error().Err(err).Msg("could not shut down tracing")
				}
			}()
		}

		// setup database
		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		cat := catalog.Default()
		svc := &router.Services{
			Screener:   screener.New(cat),
			Alerts:     alerts.NewStore(),
			MarketData: marketdata.NewStore(cat),
		}

		// alert delivery goes to NATS when configured, otherwise log-only
		var sink notify.Sink
		if viper.GetString("nats.server") != "" {
			natsSink, err := notify.NewNATS()
			if err != nil {
				log.Fatal().Err(err).Msg("could not connect to NATS")
			}
			defer natsSink.Close()
			sink = natsSink
		} else {
			log.Warn().Msg("nats.server not configured; notifications stay in-process")
			sink = notify.NewMemory()
		}

		if viper.GetBool("scheduler.enabled") {
			sched := alerts.NewScheduler(cat, svc.MarketData, sink)
			go func() {
				if err := sched.Run(ctx); err != nil && err != context.Canceled {
					log.Error().Stack().Err(err).Msg("alert scheduler stopped")
				}
			}()
		}

		// Create new Fiber instance
		app := fiber.New()

		// Configure CORS
		corsConfig := cors.Config{
			AllowOrigins: viper.GetString("server.cors_origins"),
			AllowHeaders: "*",
			AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
		}
		app.Use(cors.New(corsConfig))

		app.Use(middleware.NewRequestID())
		app.Use(middleware.NewLogger())

		// Setup routes
		router.SetupRoutes(app, svc)

		// shutdown cleanly on interrupt
		go func() {
			<-ctx.Done()
			log.Info().Msg("received interrupt; shutting down")
			if err := app.Shutdown(); err != nil {
				log.Error().Err(err).Msg("error during server shutdown")
			}
		}()

		if err := app.Listen(":" + viper.GetString("server.port")); err != nil {
			log.Fatal().Err(err).Msg("server exited")
		}
	},
}
