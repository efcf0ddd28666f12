/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/freightline/recon"
	"github.com/freightline/recon/config"
	"github.com/freightline/recon/database"
	"github.com/freightline/recon/internal/cache"
	"github.com/freightline/recon/internal/notification"
	redis_db "github.com/freightline/recon/internal/redis-db"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// localCacheTTL bounds the in-process tier of the open item cache.
const localCacheTTL = 5 * time.Second

// Recon represents the CLI application, encapsulating the root Cobra command.
type Recon struct {
	cmd *cobra.Command
}

// reconInstance holds the service and its configuration for the commands.
type reconInstance struct {
	recon *recon.Recon
	cnf   *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the service before any command runs.
func preRun(app *reconInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		// migrate connects on its own; it must not need redis.
		if cmd.Parent() != nil && cmd.Parent().Name() == "migrate" {
			app.cnf = cnf
			return nil
		}

		newRecon, err := setupRecon(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.recon = newRecon
		app.cnf = cnf
		return nil
	}
}

// setupRecon connects redis and the database and builds the service.
func setupRecon(cfg *config.Configuration) (*recon.Recon, error) {
	rdb, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cfg.Redis.Dns), cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to redis")
	}

	db, err := database.NewDataSource(cfg, cache.NewCache(rdb.Client(), localCacheTTL))
	if err != nil {
		return nil, errors.Wrap(err, "error getting datasource")
	}

	newRecon, err := recon.NewRecon(db, recon.WithRedis(rdb.Client()))
	if err != nil {
		return nil, errors.Wrap(err, "error creating recon")
	}
	return newRecon, nil
}

// NewCLI creates the root command and its subcommands.
func NewCLI() *Recon {
	var configFile string
	r := &reconInstance{}

	var rootCmd = &cobra.Command{
		Use:   "recon",
		Short: "Bank transaction reconciliation",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./recon.json", "Configuration file for recon")
	rootCmd.PersistentPreRunE = preRun(r, &configFile)

	rootCmd.AddCommand(serverCommands(r))
	rootCmd.AddCommand(workerCommands(r))
	rootCmd.AddCommand(migrateCommands(r))
	rootCmd.AddCommand(sweepCommands(r))
	rootCmd.AddCommand(configCommands(r))

	return &Recon{cmd: rootCmd}
}

func (w Recon) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
