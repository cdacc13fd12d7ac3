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
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketscreen/ms-api/catalog"
	"github.com/marketscreen/ms-api/common"
	"github.com/marketscreen/ms-api/compiler"
	"github.com/marketscreen/ms-api/database"
	"github.com/marketscreen/ms-api/screener"
	"github.com/marketscreen/ms-api/translator"
	"github.com/marketscreen/ms-api/validator"
)

var screenDryRun bool

func init() {
	screenCmd.Flags().BoolVar(&screenDryRun, "dry-run", false, "Print the DSL and SQL without executing the query")
	rootCmd.AddCommand(screenCmd)
}

var screenCmd = &cobra.Command{
	Use:   "screen [query]",
	Args:  cobra.MinimumNArgs(1),
	Short: "Run a screen from the command line",
	Long:  `Translate a natural language query, validate it, and run it against the database`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		common.SetupCache()

		ctx := context.Background()
		query := strings.Join(args, " ")
		cat := catalog.Default()

		if screenDryRun {
			rule := translator.New(cat).Translate(query)
			vres := validator.New(cat).Validate(rule)
			if !vres.Valid() {
				out, _ := json.MarshalIndent(vres, "", "  ")
				fmt.Println(string(out))
				os.Exit(1)
			}
			compiled, err := compiler.New(cat).Compile(rule)
			if err != nil {
				log.Fatal().Err(err).Msg("could not compile rule")
			}
			dslOut, _ := json.MarshalIndent(rule, "", "  ")
			fmt.Println(string(dslOut))
			fmt.Println()
			fmt.Println(compiled.SQL)
			fmt.Printf("params: %v\n", compiled.Params)
			return
		}

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		res, err := screener.New(cat).Run(ctx, &screener.Request{Query: query})
		if err != nil {
			log.Fatal().Err(err).Msg("screen failed")
		}

		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("could not serialize results")
		}
		fmt.Println(string(out))
	},
}
