/*
Copyright 2026 AI Red Teaming Labs.

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

// Command review-dispatcher runs the human review dispatcher: the
// submission/introspection HTTP ingress, the reviewer WebSocket
// channel, and the periodic liveness/expiry sweeper, all sharing one KV
// store connection and one distributed lock.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/audit"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/callback"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/config"
	ingresshttp "github.com/ai-redteam-labs/review-dispatcher/pkg/ingress/http"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/ingress/ws"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/kv"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/kvlock"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/metrics"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/ops"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/review"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/shared/logging"
	"github.com/ai-redteam-labs/review-dispatcher/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the dispatcher's YAML config file")
	env := flag.String("env", "production", "logging environment: production or development")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logEnv := logging.Production
	if *env == "development" {
		logEnv = logging.Development
	}
	log, err := logging.New(logEnv, cfg.Current().LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		if err := cfg.Watch(*configPath, log, ctx.Done()); err != nil {
			log.Error(err, "config watch disabled")
		}
	}

	kvc, err := kv.New(cfg.KVStoreURL)
	if err != nil {
		return fmt.Errorf("connect kv store: %w", err)
	}
	defer kvc.Close()
	if err := kvc.Ping(ctx); err != nil {
		return fmt.Errorf("ping kv store: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, "review-dispatcher", nil)
	if err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New()

	var auditSink review.AuditSink
	if cfg.AuditDatabaseDSN != "" {
		db, err := sql.Open("pgx", cfg.AuditDatabaseDSN)
		if err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		defer db.Close()
		if err := audit.Migrate(db); err != nil {
			return fmt.Errorf("migrate audit database: %w", err)
		}
		auditSink = audit.Open(db)
	} else {
		log.Info("no audit_database_dsn configured, terminal outcomes will not be persisted")
	}

	conversationLock := kvlock.New(kvc.Raw(), kv.LockName, cfg.LockTTL)
	conversations := review.NewConversationModel(kvc, conversationLock, cfg.AssignTTL, cfg.ActivityBonus)
	connections := review.NewConnectionModel(kvc, cfg.HeartbeatTTL)

	hub := ws.NewHub(log)
	poster := callback.New(cfg.ScoringKey, m)

	connectionCtl := review.NewConnectionController(connections, conversations, hub, log)
	conversationCtl := review.NewConversationController(conversations, connections, hub, poster, auditSink, m, log)

	var starvation review.StarvationObserver
	current := cfg.Current()
	if current.OpsSlackWebhook != "" {
		starvation = ops.NewStarvationNotifier(current.OpsSlackWebhook, current.OpsSlackChannel, 5*time.Minute, log)
	}
	ticker := review.NewTicker(connectionCtl, conversationCtl, conversations, connections, cfg.TickInterval, log, starvation, m)

	validator, err := ingresshttp.NewOpenAPIValidator(log, m)
	if err != nil {
		return fmt.Errorf("load openapi spec: %w", err)
	}
	httpHandler := ingresshttp.NewServer(conversationCtl, conversations, connections, cfg.ScoringKey, validator, m, log)
	wsHandler := ws.NewHandler(hub, connectionCtl, conversationCtl, log)

	mux := http.NewServeMux()
	mux.Handle("/", httpHandler)
	mux.Handle("/ws", wsHandler)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	tickWorker, err := kvlock.Start(ctx, kvc.Raw(), "ticker", cfg.LockTTL, 1)
	if err != nil {
		return fmt.Errorf("acquire ticker lock: %w", err)
	}
	defer tickWorker.Stop(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http ingress listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return ticker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
