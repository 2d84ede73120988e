// Package app assembles one service instance from its configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/seat-reservation-pipeline/internal/availability"
	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/catalog"
	"github.com/iliyamo/seat-reservation-pipeline/internal/config"
	"github.com/iliyamo/seat-reservation-pipeline/internal/database"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/notify"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
	"github.com/iliyamo/seat-reservation-pipeline/internal/partition"
	"github.com/iliyamo/seat-reservation-pipeline/internal/pipeline"
	"github.com/iliyamo/seat-reservation-pipeline/internal/query"
	"github.com/iliyamo/seat-reservation-pipeline/internal/queue"
	"github.com/iliyamo/seat-reservation-pipeline/internal/router"
	"github.com/iliyamo/seat-reservation-pipeline/internal/service"
	"github.com/iliyamo/seat-reservation-pipeline/internal/store"
	"github.com/iliyamo/seat-reservation-pipeline/internal/ticketstream"
)

// App is one running instance.
type App struct {
	cfg config.Config
	log *slog.Logger

	Broker   broker.Broker
	Dir      *partition.Directory
	Pipeline *pipeline.Pipeline
	Notifier *notify.Notifier
	Query    *query.Router
	Service  *service.ReservationService
	Hub      *ticketstream.Hub
	Echo     *echo.Echo

	kv          store.KV
	rdb         *redis.Client
	db          *sql.DB
	syncer      *catalog.Syncer
	completions *service.CompletionPublisher
	ownBroker   bool
}

// Option adjusts construction, mostly for tests.
type Option func(*options)

type options struct {
	broker broker.Broker
	kv     store.KV
	redis  *redis.Client
}

// WithBroker makes the instance use b instead of building one from the
// configuration.  b is not closed by App.Close, so several instances can
// share it.
func WithBroker(b broker.Broker) Option { return func(o *options) { o.broker = b } }

// WithKV overrides STORE_PATH.
func WithKV(kv store.KV) Option { return func(o *options) { o.kv = kv } }

// WithRedis uses rdb instead of connecting from REDIS_* variables.
func WithRedis(rdb *redis.Client) Option { return func(o *options) { o.redis = rdb } }

// New wires every component.  Nothing consumes or serves until Start.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	a := &App{cfg: cfg, log: obs.Component("app")}
	if cfg.MaxSectionSeats > 0 {
		model.MaxSectionSeats = cfg.MaxSectionSeats
	}

	a.Broker = o.broker
	if a.Broker == nil {
		a.ownBroker = true
		switch cfg.Broker {
		case config.BrokerAMQP:
			a.Broker = broker.NewAMQP(cfg.RabbitURL, cfg.Partitions, cfg.Prefetch)
		default:
			a.Broker = broker.NewMemory(cfg.Partitions)
		}
	}

	a.kv = o.kv
	if a.kv == nil {
		kv, err := openStore(cfg.StorePath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.kv = kv
	}

	a.rdb = o.redis
	if a.rdb == nil && cfg.RedisEnabled {
		if a.rdb = config.NewRedisClient(config.LoadRedisConfig()); a.rdb == nil {
			a.log.Warn("redis unavailable; using in-process availability, no cache or rate limit")
		}
	}
	var avail availability.Checker = availability.NewMemory()
	if a.rdb != nil {
		avail = availability.NewRedis(a.rdb, "avail", 0)
	}

	a.Dir = partition.NewDirectory(cfg.InstanceID, cfg.Partitions, cfg.Peers)
	a.Pipeline = pipeline.New(a.Broker, a.Dir, a.kv, avail, nil)
	a.Notifier = notify.New()
	a.Query = query.NewRouter(a.Dir, a.Pipeline.Views(), query.NewHTTPRemote(cfg.QueryTimeout))
	a.Service = service.NewReservationService(a.Broker, avail, a.Query, a.Notifier, cfg.WaitTimeout)
	a.Hub = ticketstream.NewHub(16)

	if cfg.CatalogEnabled() {
		db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ticket catalog: %w", err)
		}
		a.db = db
		a.syncer = catalog.NewSyncer(db, a.Hub.Publish)
	}
	if cfg.PublishDone && cfg.Broker == config.BrokerAMQP {
		a.completions = service.NewCompletionPublisher(cfg.RabbitURL)
	}

	a.Echo = router.New(router.Deps{
		Reservations: a.Service,
		Sections:     a.Service,
		Local:        a.Query,
		Hub:          a.Hub,
		Ready:        a.Ready,
		JWTSecret:    cfg.JWTSecret,
		Redis:        a.rdb,
		Cache:        config.LoadCacheConfig(),
		RateLimit:    config.LoadRateLimitConfig(),
	})
	return a, nil
}

// openStore picks the KV implementation for path.
func openStore(path string) (store.KV, error) {
	if path == "memory" {
		return store.NewMemoryKV(), nil
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store dir: %w", err)
		}
	}
	kv, err := store.OpenSQLite(path, obs.Component("store"))
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return kv, nil
}

// Start subscribes the completion consumers, starts the pipeline on the
// owned partitions and marks the directory ready.  Consumers stop when ctx
// ends.
func (a *App) Start(ctx context.Context) error {
	subs := []broker.Handler{a.Notifier.Handle}
	if a.syncer != nil {
		subs = append(subs, a.syncer.Handle)
	} else {
		subs = append(subs, a.Hub.Handle)
	}
	if a.completions != nil {
		subs = append(subs, a.completions.Handle)
	}
	for _, h := range subs {
		if err := a.Broker.SubscribeBroadcast(ctx, pipeline.TopicCompleted, h); err != nil {
			return fmt.Errorf("subscribe %s: %w", pipeline.TopicCompleted, err)
		}
	}

	if err := a.Pipeline.Start(ctx); err != nil {
		return err
	}
	a.Dir.SetReady(true)
	if a.cfg.EarlyResultSweep > 0 {
		go a.Notifier.RunSweeper(ctx, a.cfg.EarlyResultSweep)
	}
	return nil
}

// Ready reports whether reservation reads can be served.
func (a *App) Ready() bool { return a.Dir.Ready() && a.Pipeline.Started() }

// Run starts the instance and serves HTTP on cfg.Port until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + a.cfg.Port
		a.log.Info("listening", "addr", addr, "instance", a.cfg.InstanceID, "env", a.cfg.Env)
		if err := a.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Echo.Shutdown(shutdownCtx)
	})
	if a.cfg.JournalDir != "" && a.cfg.Broker == config.BrokerAMQP {
		g.Go(func() error {
			err := queue.RunJournalConsumer(ctx, a.cfg.RabbitURL, queue.NewJournal(a.cfg.JournalDir))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Close releases everything New opened.
func (a *App) Close() {
	if a.completions != nil {
		_ = a.completions.Close()
	}
	if a.ownBroker && a.Broker != nil {
		_ = a.Broker.Close()
	}
	if a.kv != nil {
		_ = a.kv.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
