// Copyright 2021 IBM Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/relaypoint/filebroker/pkg/authz"
	"github.com/relaypoint/filebroker/pkg/database"
	"github.com/relaypoint/filebroker/pkg/engine"
	"github.com/relaypoint/filebroker/pkg/events"
	"github.com/relaypoint/filebroker/pkg/scheduler"
	"github.com/relaypoint/filebroker/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var log logr.Logger

func main() {
	cmd := &cobra.Command{
		Use:   "filebroker",
		Short: "Command to start up the file-transfer broker",
		Long:  `Command to start up the transfer lifecycle engine, its job dispatcher and the stuck-transfer monitor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg := &database.Config{
				Path: viper.GetString("db"),
				Log:  log,
			}

			db, err := cfg.Open()
			if err != nil {
				return err
			}
			defer database.Close(db)

			providers := storage.Registry{
				"default": storage.NewBlobStore(db, log),
				"scanned": storage.NewScannedBlobStore(db, log),
			}

			publisher := events.Publisher(events.NewLogPublisher(log))
			if url := viper.GetString("events-url"); url != "" {
				publisher = events.NewWebhookPublisher(url, log)
			}

			notifier := events.Notifier(events.NewLogNotifier(log))
			if url := viper.GetString("alerts-url"); url != "" {
				notifier = events.NewWebhookNotifier(url, log)
			}

			jobs := scheduler.New(db, log)

			eng := &engine.Engine{
				Log:              log.WithName("engine"),
				DB:               db,
				Access:           authz.AllowAll{},
				Transfers:        database.NewTransferStore(db, log),
				Statuses:         database.NewStatusStore(db, log),
				Resources:        database.NewResourceStore(db),
				Markers:          database.NewMarkerStore(db),
				Providers:        providers,
				Events:           publisher,
				Notifier:         notifier,
				Jobs:             jobs,
				LocalEnvironment: viper.GetBool("local"),
				StuckThreshold:   viper.GetDuration("stuck-threshold"),
			}
			eng.RegisterJobHandlers(jobs)

			jobs.Start(ctx)
			defer jobs.Stop()

			monitor := gocron.NewScheduler(time.UTC)
			_, err = monitor.Every(viper.GetDuration("monitor-interval")).Do(func() {
				if err := eng.CheckStuckTransfers(ctx); err != nil {
					log.Error(err, "stuck-transfer sweep failed")
				}
			})
			if err != nil {
				return err
			}
			monitor.StartAsync()
			defer monitor.Stop()

			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
			<-ch

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("db", "d", "filebroker.db", "path of the sqlite database file")
	flags.String("events-url", "", "webhook endpoint for outcome events (log only when unset)")
	flags.String("alerts-url", "", "webhook endpoint for operational alerts (log only when unset)")
	flags.Bool("local", false, "local environment; skip the content-scanning hold")
	flags.Duration("stuck-threshold", 15*time.Minute, "age after which a processing transfer is reported")
	flags.Duration("monitor-interval", 5*time.Minute, "how often the stuck-transfer monitor runs")

	viper.SetEnvPrefix("FILEBROKER")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		log.Error(err, "could not bind flags")
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize zapr, due to error: %v", err))
	}
	log = zapr.NewLogger(zapLog)
}
