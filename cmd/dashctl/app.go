package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/guarzo/qualityapi/common"
	"github.com/guarzo/qualityapi/common/config"
	"github.com/guarzo/qualityapi/modules/api"
	modcommon "github.com/guarzo/qualityapi/modules/common"
	"github.com/guarzo/qualityapi/modules/dashboard"
	"github.com/guarzo/qualityapi/modules/exportsink"
	"github.com/guarzo/qualityapi/modules/protocols"
	"github.com/guarzo/qualityapi/modules/report"
	"github.com/guarzo/qualityapi/modules/session"
	"github.com/guarzo/qualityapi/modules/uploads"
	"github.com/guarzo/qualityapi/modules/users"
)

var errNoCredentials = errors.New("no credentials: pass --email/--password or set DASH_EMAIL/DASH_PASSWORD")

// app holds everything a command needs.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	stdout io.Writer
	stderr io.Writer
	format string

	client    api.Client
	dashboard dashboard.Service
	protocols protocols.Service
	uploads   uploads.Service
	users     users.Service

	sink    exportsink.Sink
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, stdout, stderr io.Writer, format string) (*app, error) {
	hc, err := common.NewHttpClient(common.HttpClientOptions{
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
	})
	if err != nil {
		return nil, err
	}

	store := session.NewStore()
	client := api.NewClient(cfg.API.BaseURL, hc, store, nil,
		api.WithRenewTimeout(cfg.API.RenewTimeout),
		api.WithLogger(log.With().Str("component", "api").Logger()),
	)

	a := &app{
		cfg:    cfg,
		log:    log,
		stdout: stdout,
		stderr: stderr,
		format: format,
		client: client,
	}
	a.closers = append(a.closers, hc.CloseIdleConnections)
	a.closers = append(a.closers, store.Subscribe(func(s session.Snapshot) {
		if !s.SignedIn() {
			log.Debug().Msg("session cleared")
		}
	}))

	cache := a.newCache(ctx)
	a.dashboard = dashboard.NewService(client, cache, cfg.Cache.TTL, log.With().Str("component", "dashboard").Logger())
	a.protocols = protocols.NewService(client)
	a.uploads = uploads.NewService(client, log.With().Str("component", "uploads").Logger())
	a.users = users.NewService(client, log.With().Str("component", "users").Logger())

	log.Debug().Str("base_url", cfg.API.BaseURL).Str("cache", cfg.Cache.Backend).Msg("client ready")
	return a, nil
}

// newCache returns nil when caching is off. An unreachable Redis falls back to memory.
func (a *app) newCache(ctx context.Context) common.CacheRepository {
	switch a.cfg.Cache.Backend {
	case config.CacheNone:
		return nil
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Cache.RedisAddr,
			Password: a.cfg.Cache.RedisPassword,
			DB:       a.cfg.Cache.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			a.log.Warn().Err(err).Str("addr", a.cfg.Cache.RedisAddr).Msg("redis unavailable, using in-memory cache")
			_ = rdb.Close()
			return modcommon.NewCacheStore()
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		return modcommon.NewRedisCacheStore(rdb, a.cfg.Cache.RedisPrefix, a.log.With().Str("component", "cache").Logger())
	default:
		return modcommon.NewCacheStore()
	}
}

func (a *app) signIn(ctx context.Context) error {
	if a.cfg.Auth.Email == "" || a.cfg.Auth.Password == "" {
		return errNoCredentials
	}
	_, err := a.client.Login(ctx, a.cfg.Auth.Email, a.cfg.Auth.Password)
	return err
}

// signOut revokes the renewal cookie so the process leaves nothing usable behind.
func (a *app) signOut() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Logout(ctx); err != nil {
		a.log.Warn().Err(err).Msg("logout failed")
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// exportSink is opened on first use so plain reads never touch object storage.
func (a *app) exportSink(ctx context.Context) (exportsink.Sink, error) {
	if a.sink != nil {
		return a.sink, nil
	}
	sink, err := exportsink.New(ctx, a.cfg.Export)
	if err != nil {
		return nil, err
	}
	a.sink = sink
	return sink, nil
}

// save stores data under name and reports where it went.
func (a *app) save(ctx context.Context, name string, data []byte) error {
	sink, err := a.exportSink(ctx)
	if err != nil {
		return err
	}
	loc, err := sink.Put(ctx, name, bytes.NewReader(data), int64(len(data)), exportsink.ContentTypeCSV)
	if err != nil {
		return err
	}
	a.log.Info().Str("file", name).Int("bytes", len(data)).Msg("export saved")
	fmt.Fprintln(a.stdout, loc)
	return nil
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes rows as JSON or CSV depending on --output.
func printTable[T report.Tabular](a *app, rows []T) error {
	if a.format != "csv" {
		if rows == nil {
			rows = []T{}
		}
		return a.printJSON(rows)
	}
	err := report.WriteRecords(a.stdout, rows)
	if errors.Is(err, report.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
