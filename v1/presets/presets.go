// Package presets assembles the shared infrastructure of a tracker
// deployment: the record store, reference data, audit log, invalidation
// bus, countdown feed and record locks. A Stack hands out one core.Tracker
// per dashboard session, all wired to the same backends.
package presets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/audit"
	"github.com/mirkobrombin/go-gracelock/v1/cache"
	"github.com/mirkobrombin/go-gracelock/v1/config"
	"github.com/mirkobrombin/go-gracelock/v1/core"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/identity"
	"github.com/mirkobrombin/go-gracelock/v1/lock"
	"github.com/mirkobrombin/go-gracelock/v1/record"
	"github.com/mirkobrombin/go-gracelock/v1/reference"
	"github.com/mirkobrombin/go-gracelock/v1/syncbus"
	"github.com/mirkobrombin/go-gracelock/v1/validator"
	"github.com/mirkobrombin/go-gracelock/v1/watchbus"
)

// uomPrefix namespaces cached units of measure in a shared Redis.
const uomPrefix = "gracelock:uom:"

// Units is writable reference data.
type Units interface {
	reference.Lookup
	Put(ctx context.Context, product string, uom float64) error
}

// Stack is the infrastructure shared by every session of a deployment.
type Stack struct {
	Store       adapter.RecordStore
	Units       Units
	Lookup      *reference.CachedLookup
	Audit       audit.Sink
	AuditReader audit.Reader
	Bus         syncbus.Bus
	Feed        watchbus.WatchBus
	Locker      lock.Locker

	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// NewInMemory returns a Stack that keeps everything in process memory.
// Useful for local development and tests.
func NewInMemory() *Stack {
	s, err := FromConfig(context.Background(), config.Default(), nil)
	if err != nil {
		// the default configuration never fails validation
		panic(err)
	}
	return s
}

// FromConfig connects every backend cfg names. Resources opened before a
// failure are released.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", gerrors.ErrValidation, errs)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stack{cfg: cfg, logger: logger}
	if err := s.open(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) open(ctx context.Context) error {
	var rdb *redis.Client
	if s.cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
		})
		s.onClose(rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", s.cfg.Redis.Addr, err)
		}
	}

	if err := s.openStore(ctx); err != nil {
		return err
	}
	if err := s.openAudit(); err != nil {
		return err
	}
	if err := s.openBus(rdb); err != nil {
		return err
	}

	if rdb != nil {
		s.Locker = lock.NewRedis(rdb, s.Bus)
	} else {
		s.Locker = lock.NewInMemory()
	}

	var uoms cache.Cache[float64]
	if rdb != nil {
		uoms = cache.NewRedis[float64](rdb, cache.WithPrefix(uomPrefix))
	} else {
		c := cache.NewInMemory[float64](cache.WithName[float64]("uom"))
		s.onClose(func() error { c.Close(); return nil })
		uoms = c
	}
	s.Lookup = reference.NewCachedLookup(s.Units, uoms, s.cfg.Cache.UOMTTL)
	return nil
}

func (s *Stack) openStore(ctx context.Context) error {
	switch strings.ToLower(s.cfg.Store.Driver) {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(s.cfg.Store.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", s.cfg.Store.DSN, err)
		}
		if sqlDB, err := db.DB(); err == nil {
			s.onClose(sqlDB.Close)
		}
		store, err := adapter.NewGormStore(db)
		if err != nil {
			return err
		}
		sink, err := audit.NewGormSink(db)
		if err != nil {
			return err
		}
		units, err := reference.NewGormLookup(db)
		if err != nil {
			return err
		}
		s.Store, s.Audit, s.AuditReader, s.Units = store, sink, sink, units
	case "postgres":
		store, err := adapter.OpenPostgres(ctx, s.cfg.Store.DSN)
		if err != nil {
			return err
		}
		s.onClose(func() error { store.Close(); return nil })
		sink, err := audit.NewPostgresSink(ctx, store.Pool())
		if err != nil {
			return err
		}
		units, err := reference.NewPostgresLookup(ctx, store.Pool())
		if err != nil {
			return err
		}
		s.Store, s.Audit, s.AuditReader, s.Units = store, sink, sink, units
	default:
		sink := audit.NewMemorySink()
		s.Store, s.Audit, s.AuditReader = adapter.NewInMemoryStore(), sink, sink
		s.Units = reference.NewMapLookup(nil)
	}
	return nil
}

// openAudit mirrors the audit log to Kafka when brokers are configured.
// The store keeps serving reads.
func (s *Stack) openAudit() error {
	if len(s.cfg.Kafka.Brokers) == 0 {
		return nil
	}
	k, err := audit.NewKafkaSink(s.cfg.Kafka.Brokers, s.cfg.Kafka.Topic, nil)
	if err != nil {
		return fmt.Errorf("kafka %v: %w", s.cfg.Kafka.Brokers, err)
	}
	s.onClose(k.Close)
	s.Audit = audit.Multi(s.Audit, k)
	return nil
}

func (s *Stack) openBus(rdb *redis.Client) error {
	switch strings.ToLower(s.cfg.Bus.Backend) {
	case "redis":
		b := syncbus.NewRedisBus(rdb)
		s.onClose(b.Close)
		s.Bus = b
		s.Feed = watchbus.NewRedisWatchBus(rdb)
	case "nats":
		nc, err := nats.Connect(s.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats %s: %w", s.cfg.NATS.URL, err)
		}
		s.onClose(func() error { nc.Close(); return nil })
		s.Bus = syncbus.NewNATSBus(nc)
		s.Feed = watchbus.NewInMemory()
	default:
		s.Bus = syncbus.NewInMemoryBus()
		s.Feed = watchbus.NewInMemory()
	}
	return nil
}

// Tracker returns a session for ident wired to the stack. opts are applied
// last and may override any backend.
func (s *Stack) Tracker(ident identity.Provider, opts ...core.Option) (*core.Tracker, error) {
	mode, err := validator.ParseMode(s.cfg.Validator.Mode)
	if err != nil {
		return nil, err
	}
	projection, err := s.projection()
	if err != nil {
		return nil, err
	}
	base := []core.Option{
		core.WithIdentity(ident),
		core.WithLookup(s.Lookup),
		core.WithAudit(s.Audit),
		core.WithAuditReader(s.AuditReader),
		core.WithBus(s.Bus, s.cfg.Bus.Topic),
		core.WithFeed(s.Feed),
		core.WithLocker(s.Locker),
		core.WithProjection(projection),
		core.WithGrace(s.cfg.Grace.Period, s.cfg.Grace.Tick),
		core.WithValidator(mode, s.cfg.Validator.Interval),
		core.WithLogger(s.logger),
	}
	return core.New(s.Store, append(base, opts...)...), nil
}

// Identity returns the configured CLI user.
func (s *Stack) Identity() identity.Provider {
	return identity.Static{User: s.cfg.Identity.Email, Level: s.cfg.Identity.TierLevel()}
}

func (s *Stack) projection() (cache.Cache[record.Record], error) {
	if strings.ToLower(s.cfg.Cache.Backend) == "ristretto" {
		c, err := cache.NewRistretto[record.Record]()
		if err != nil {
			return nil, fmt.Errorf("projection cache: %w", err)
		}
		s.onClose(func() error { c.Close(); return nil })
		return c, nil
	}
	c := cache.NewInMemory[record.Record](cache.WithName[record.Record]("projection"))
	s.onClose(func() error { c.Close(); return nil })
	return c, nil
}

// SetUnit stores the unit of measure of product and drops its cached copy.
func (s *Stack) SetUnit(ctx context.Context, product string, uom float64) error {
	if err := s.Units.Put(ctx, product, uom); err != nil {
		return err
	}
	return s.Lookup.Forget(ctx, product)
}

func (s *Stack) onClose(fn func() error) {
	s.mu.Lock()
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Close releases every backend in reverse opening order. Trackers must be
// unmounted first.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
