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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marketscreen/ms-api/common"
)

func init() {
	// Database
	viper.BindEnv("database.url", "MS_DATABASE_URL")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	// NATS
	viper.BindEnv("nats.server", "MS_NATS_SERVER")
	rootCmd.PersistentFlags().String("nats-server", "", "NATS server url for alert notifications")
	viper.BindPFlag("nats.server", rootCmd.PersistentFlags().Lookup("nats-server"))

	viper.BindEnv("nats.credentials", "MS_NATS_CREDENTIALS")
	rootCmd.PersistentFlags().String("nats-credentials", "", "NATS credentials file")
	viper.BindPFlag("nats.credentials", rootCmd.PersistentFlags().Lookup("nats-credentials"))

	// Cache
	viper.BindEnv("cache.redis_url", "MS_REDIS_URL")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis connection string for the shared cache")
	viper.BindPFlag("cache.redis_url", rootCmd.PersistentFlags().Lookup("redis-url"))

	// Tracing
	viper.BindEnv("otlp.endpoint", "MS_OTLP_ENDPOINT")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP trace collector endpoint")
	viper.BindPFlag("otlp.endpoint", rootCmd.PersistentFlags().Lookup("otlp-endpoint"))

	// Logging configuration
	viper.BindEnv("log.level", "MS_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.BindEnv("log.report_caller", "MS_LOG_REPORT_CALLER")
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller"))

	viper.BindEnv("log.output", "MS_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))
}

var rootCmd = &cobra.Command{
	Use:     "msapi",
	Version: common.CurrentVersion.String(),
	Short:   "Market Screen turns natural language into safe stock screens",
	Long: `Market Screen API translates natural language queries into a validated
screening DSL, compiles them to parameterized SQL, and evaluates user
alert subscriptions against fresh market data.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
