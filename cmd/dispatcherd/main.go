// Command dispatcherd is the worker+API process: it starts the HTTP
// surface (A8), N dispatch workers draining C7's queue, the broadcast
// hub's run loop, the queue reaper and the periodic tickers under one
// errgroup; the metrics server and tracing provider are started
// alongside the group and stopped when run returns. On SIGTERM/SIGINT
// workers stop taking new items and let in-flight dispatches finish
// (bounded by the soft time limit) before exit (spec.md §5).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Artem468/executor-balancer/internal/config"
	"github.com/Artem468/executor-balancer/internal/database"
	apperrors "github.com/Artem468/executor-balancer/internal/errors"
	"github.com/Artem468/executor-balancer/pkg/broadcast"
	"github.com/Artem468/executor-balancer/pkg/dailycounter"
	"github.com/Artem468/executor-balancer/pkg/dispatcher"
	"github.com/Artem468/executor-balancer/pkg/httpapi"
	"github.com/Artem468/executor-balancer/pkg/loadbalancer"
	"github.com/Artem468/executor-balancer/pkg/metrics"
	"github.com/Artem468/executor-balancer/pkg/notifier"
	"github.com/Artem468/executor-balancer/pkg/queue"
	"github.com/Artem468/executor-balancer/pkg/store"
	"github.com/Artem468/executor-balancer/pkg/telemetry"
	"github.com/Artem468/executor-balancer/pkg/typeregistry"
)

const workerCount = 4

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dispatcherd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.Logging.Level, cfg.Logging.Format)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if err := cfg.Watch(stopWatch, func(d config.DispatchConfig) {
		log.WithField("policy", d.Policy).Info("dispatch config hot-reloaded")
	}, func(err error) {
		log.WithError(err).Warn("config watch error")
	}); err != nil {
		log.WithError(err).Warn("failed to start config watcher, running with the initial config only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:  "executor-balancer",
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	dbCfg := database.DefaultConfig()
	dbCfg.LoadFromEnv()
	db, err := database.Open(dbCfg, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr()})
	defer redisClient.Close()

	repo := store.New(db, log)
	registry := typeregistry.NewCache(redisClient, repo)
	counters := dailycounter.New(repo)
	hub := broadcast.NewHub(log)

	policy := resolvePolicy(cfg.Dispatch.Policy)
	recorder := metrics.NewRecorder()

	q := queue.New(redisClient, queue.Config{
		Name:               "dispatch",
		VisibilityTimeout:  cfg.Dispatch.VisibilityTimeout,
		BreakerMaxRequests: 2,
		BreakerInterval:    10 * time.Second,
		BreakerTimeout:     30 * time.Second,
	}, log, recorder)

	alerter := notifier.New(notifier.Config{
		Token:   os.Getenv("SLACK_BOT_TOKEN"),
		Channel: os.Getenv("SLACK_CHANNEL"),
	}, log)

	dispatch := dispatcher.New(repo, counters, hub, policy, cfg.Dispatch.MinScoreFraction, log, recorder)

	api := httpapi.New(repo, registry, q, hub, redisPinger{redisClient}, log)

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, log)
	metricsServer.StartAsync()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Stop(shutdownCtx)
	}()

	httpServer := &http.Server{Addr: ":" + cfg.Server.Port, Handler: api.Router()}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.WithField("addr", httpServer.Addr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		hub.Run(groupCtx.Done())
		return nil
	})

	group.Go(func() error {
		q.Reap(groupCtx)
		return nil
	})

	group.Go(func() error {
		refreshCounters(groupCtx, counters, log)
		return nil
	})

	group.Go(func() error {
		reportQueueDepth(groupCtx, q, hub, log)
		return nil
	})

	for i := 0; i < workerCount; i++ {
		group.Go(func() error {
			return runWorker(groupCtx, q, dispatch, alerter, cfg, log)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("dispatcherd: %w", err)
	}
	return nil
}

// runWorker drains the queue one item at a time (prefetch 1, spec.md
// §4.7), running a fresh soft-time-limited context per dispatch
// attempt so a stuck attempt never blocks the worker past the
// configured deadline (spec.md §5 "Cancellation & timeouts").
func runWorker(ctx context.Context, q *queue.Queue, dispatch *dispatcher.Dispatcher, alerter *notifier.Notifier, cfg *config.Config, log *logrus.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		dispatchTunables := cfg.Snapshot()

		_, err := q.Process(context.WithoutCancel(ctx), time.Second, func(taskCtx context.Context, reqID string) error {
			softCtx, cancel := context.WithTimeout(taskCtx, dispatchTunables.SoftTimeLimit)
			defer cancel()

			winner, dispatchErr := dispatch.Dispatch(softCtx, reqID)
			if dispatchErr != nil {
				if apperrors.IsType(dispatchErr, apperrors.ErrorTypeNoCandidates) {
					alerter.NoCandidates(taskCtx, reqID)
				} else {
					log.WithError(dispatchErr).WithField("request_id", reqID).Warn("dispatch attempt failed")
				}
				return dispatchErr
			}
			if winner != "" {
				log.WithFields(logrus.Fields{"request_id": reqID, "winner": winner}).Info("dispatched")
			}
			return nil
		})
		if err != nil && !apperrors.IsType(err, apperrors.ErrorTypeNoCandidates) {
			log.WithError(err).Warn("queue processing error")
		}
	}
}

func refreshCounters(ctx context.Context, counters *dailycounter.Cache, log *logrus.Logger) {
	ticker := time.NewTicker(dailycounter.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := counters.GetCounts(ctx, true); err != nil {
				log.WithError(err).Warn("daily counter refresh failed")
			}
		}
	}
}

func reportQueueDepth(ctx context.Context, q *queue.Queue, hub *broadcast.Hub, log *logrus.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := q.Depth(ctx); err == nil {
				metrics.SetQueueDepth(float64(depth))
			}
			metrics.SetBroadcastClients(string(broadcast.GroupNewRequests), float64(hub.ClientCount(broadcast.GroupNewRequests)))
			metrics.SetBroadcastClients(string(broadcast.GroupDispatched), float64(hub.ClientCount(broadcast.GroupDispatched)))
		}
	}
}

func resolvePolicy(name string) loadbalancer.Policy {
	if name == "threshold" {
		return loadbalancer.ThresholdPolicy{}
	}
	return loadbalancer.ScoreLoadPolicy{}
}

func newLogger(level, format string) *logrus.Logger {
	log := logrus.New()
	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

func redisAddr() string {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		return v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		return "localhost:" + v
	}
	return "localhost:6379"
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
