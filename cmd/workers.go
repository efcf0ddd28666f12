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
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/freightline/recon"
	"github.com/freightline/recon/config"
	pg_listener "github.com/freightline/recon/internal/pg-listener"
	redis_db "github.com/freightline/recon/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

// staleCheckSpec schedules the stale period check.
const staleCheckSpec = "@every 1h"

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.ResolveQueue:   6,
		conf.Queue.RecomputeQueue: 3,
		conf.Queue.AlertQueue:     3,
		conf.Queue.WebhookQueue:   3,
		conf.Queue.SweepQueue:     1,
	}
}

func initializeWorkerServer(conf *config.Configuration, redisOption asynq.RedisClientOpt) *asynq.Server {
	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      initializeQueues(conf),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logrus.WithError(err).WithFields(logrus.Fields{
				"task":    task.Type(),
				"retried": retried,
				"max":     maxRetry,
			}).Warn("task failed")
		}),
	})
}

func initializeTaskHandlers(r *recon.Recon, conf *config.Configuration, mux *asynq.ServeMux) {
	mux.HandleFunc(conf.Queue.ResolveQueue, r.ProcessResolve)
	mux.HandleFunc(conf.Queue.SweepQueue, r.ProcessSweep)
	mux.HandleFunc(conf.Queue.RecomputeQueue, r.ProcessRecompute)
	mux.HandleFunc(conf.Queue.AlertQueue, recon.ProcessAlert)
	mux.HandleFunc(conf.Queue.WebhookQueue, recon.ProcessWebhook)
	mux.HandleFunc(recon.StalePeriodsTask, r.ProcessStalePeriods)
}

// initializeScheduler registers the periodic stale period check on the recompute queue.
func initializeScheduler(conf *config.Configuration, redisOption asynq.RedisClientOpt) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOption, nil)
	_, err := scheduler.Register(staleCheckSpec, asynq.NewTask(recon.StalePeriodsTask, nil), asynq.Queue(conf.Queue.RecomputeQueue))
	if err != nil {
		return nil, err
	}
	return scheduler, nil
}

// workerCommands defines the "workers" command that consumes the recon queues.
func workerCommands(r *reconInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start recon workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := r.cnf

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			redisOption, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatalf("error parsing Redis URL: %v", err)
			}

			srv := initializeWorkerServer(conf, redisOption)
			mux := asynq.NewServeMux()
			initializeTaskHandlers(r.recon, conf, mux)

			scheduler, err := initializeScheduler(conf, redisOption)
			if err != nil {
				log.Fatalf("could not register scheduled tasks: %v", err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			recovery := recon.NewLedgerRecoveryProcessor(r.recon)
			recovery.Start(ctx)
			defer recovery.Stop()

			feed := pg_listener.NewDBListener(pg_listener.ListenerConfig{
				PgConnStr: conf.DataSource.Dns,
				Channel:   recon.FeedChannel,
			}, r.recon)
			listenCtx, stopListening := context.WithCancel(ctx)
			defer stopListening()
			go func() {
				if err := feed.Start(listenCtx); err != nil && !errors.Is(err, context.Canceled) {
					logrus.WithError(err).Error("bank feed listener stopped")
				}
			}()

			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: redisOption,
			})
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
