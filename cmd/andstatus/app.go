package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"andstatus/internal/cache"
	"andstatus/internal/config"
	"andstatus/internal/data"
	"andstatus/internal/database/boltstore"
	"andstatus/internal/database/sqlitestore"
	"andstatus/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// app holds the stores shared by every command.
type app struct {
	cfg      *config.Config
	store    *sqlitestore.Store
	state    *boltstore.Store
	redis    *redis.Client
	cache    cache.IDCache
	resolver *data.Resolver
	account  models.Account
}

// openApp opens both databases, picks the id cache and registers the
// configured account.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if !cfg.Account.IsValid() {
		return nil, errors.New("ANDSTATUS_ACCOUNT is required")
	}

	store, err := sqlitestore.Open(sqlitestore.Options{Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{cfg: cfg, store: store}

	a.state, err = boltstore.Open(boltstore.Options{Path: cfg.Database.StatePath})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}

	a.cache = cache.NewMemoryCache(0)
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rc := cache.NewRedisCache(a.redis, cfg.Redis.TTL)
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("Redis unavailable, using in-process cache")
		} else {
			a.cache = rc
			log.Info().Str("addr", cfg.Redis.Address).Msg("Using Redis id cache")
		}
	}
	a.resolver = data.NewResolver(store, a.cache)

	if err := store.EnsureOrigin(ctx, cfg.Account.OriginID, originName(cfg.Account), ""); err != nil {
		a.Close()
		return nil, err
	}
	a.account, err = data.ResolveAccountUser(ctx, store, a.resolver, cfg.Account)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.state.AccountStore().Register(a.account); err != nil {
		a.Close()
		return nil, fmt.Errorf("register account: %w", err)
	}

	log.Debug().
		Str("account", a.account.Name).
		Int64("user_id", a.account.UserID).
		Str("db", cfg.Database.Path).
		Msg("Opened stores")
	return a, nil
}

// originName names an origin after the host part of the account.
func originName(account models.Account) string {
	if i := strings.LastIndexByte(account.Name, '@'); i >= 0 && i < len(account.Name)-1 {
		return account.Name[i+1:]
	}
	return fmt.Sprintf("origin-%d", account.OriginID)
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// openAppFor loads the configuration stored on the command context.
func openAppFor(ctx context.Context) (*app, error) {
	cfg, err := configFrom(ctx)
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg)
}
