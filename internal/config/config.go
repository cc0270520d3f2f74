// Package config holds the command-line and environment configuration shared
// by every powerdash command, and the constructors that turn it into live
// dependencies.
package config

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lox/powerdash/internal/cache"
	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/export"
	"github.com/lox/powerdash/internal/store"
)

type LogConfig struct {
	Level  string `name:"log-level" env:"POWERDASH_LOG_LEVEL" default:"info" help:"Log level (debug, info, warn, error)."`
	Format string `name:"log-format" env:"POWERDASH_LOG_FORMAT" enum:"json,console" default:"json" help:"Log encoding (json, console)."`
}

// InitLogger installs the global logger. Entries are named "powerdash" and
// stamped in the reference timezone so they line up with dashboard dates.
func InitLogger(cfg LogConfig) error {
	zapCfg, err := loggerConfig(cfg)
	if err != nil {
		return err
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger.Named("powerdash"))
	return nil
}

func loggerConfig(cfg LogConfig) (zap.Config, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.EncoderConfig.EncodeTime = encodeLocalTime

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return zapCfg, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)
	return zapCfg, nil
}

func encodeLocalTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.In(calendar.Location).Format(time.RFC3339))
}

type TimeConfig struct {
	Timezone string `name:"timezone" env:"POWERDASH_TIMEZONE" default:"Asia/Kolkata" help:"Reference timezone every date is normalized into."`
}

// Apply sets the reference timezone. An unknown zone falls back to IST and
// is reported as a warning rather than an error.
func (c TimeConfig) Apply() {
	loc, err := calendar.LoadLocation(c.Timezone)
	if err != nil {
		zap.L().Warn("unknown timezone, using IST", zap.String("timezone", c.Timezone), zap.Error(err))
	}
	calendar.Location = loc
}

type StoreConfig struct {
	DatabaseURL    string        `name:"database-url" env:"DATABASE_URL" help:"Postgres connection URL. The local SQLite database is used when empty."`
	MaxConns       int32         `name:"db-max-conns" env:"POWERDASH_DB_MAX_CONNS" default:"8" help:"Maximum Postgres pool size."`
	ConnectTimeout time.Duration `name:"db-connect-timeout" env:"POWERDASH_DB_CONNECT_TIMEOUT" default:"30s" help:"How long to keep retrying the first Postgres connection."`
	SQLitePath     string        `name:"sqlite-path" env:"POWERDASH_SQLITE_PATH" default:"data/powerdash.db" help:"Path to the local SQLite database."`
}

// OpenSQLite opens and migrates the local database.
func (c StoreConfig) OpenSQLite(ctx context.Context) (*store.SQLiteStore, error) {
	st, err := store.OpenSQLite(ctx, c.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// OpenSource connects to Postgres when a URL is configured and to the local
// SQLite database otherwise. The returned source is instrumented.
func (c StoreConfig) OpenSource(ctx context.Context) (store.Source, func(), error) {
	if c.DatabaseURL != "" {
		pg, err := store.ConnectPostgres(ctx, store.PostgresConfig{
			URL:            c.DatabaseURL,
			MaxConns:       c.MaxConns,
			ConnectTimeout: c.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return store.Instrument(pg), pg.Close, nil
	}

	st, err := c.OpenSQLite(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store.Instrument(st), func() { st.Close() }, nil
}

type CacheConfig struct {
	RedisAddr string        `name:"redis-addr" env:"REDIS_ADDR" help:"Redis address for a shared view cache. An in-process cache is used when empty."`
	TTL       time.Duration `name:"cache-ttl" env:"POWERDASH_CACHE_TTL" default:"5m" help:"How long computed views are reused."`
	Disabled  bool          `name:"no-cache" env:"POWERDASH_NO_CACHE" help:"Recompute every view on every request."`
}

// Open returns the configured view cache and a function releasing it.
func (c CacheConfig) Open(ctx context.Context) (cache.Cache, func(), error) {
	switch {
	case c.Disabled || c.TTL <= 0:
		return cache.Nop{}, func() {}, nil
	case c.RedisAddr != "":
		r, err := cache.DialRedis(ctx, c.RedisAddr, c.TTL)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	default:
		return cache.NewMemory(c.TTL), func() {}, nil
	}
}

type FTPConfig struct {
	Addr     string        `name:"ftp-addr" env:"POWERDASH_FTP_ADDR" help:"FTP server (host:port) that receives published exports."`
	User     string        `name:"ftp-user" env:"POWERDASH_FTP_USER" help:"FTP user. Anonymous when empty."`
	Password string        `name:"ftp-password" env:"POWERDASH_FTP_PASSWORD" help:"FTP password."`
	Dir      string        `name:"ftp-dir" env:"POWERDASH_FTP_DIR" help:"Remote directory exports are written to."`
	Timeout  time.Duration `name:"ftp-timeout" env:"POWERDASH_FTP_TIMEOUT" default:"30s" help:"FTP dial timeout."`
}

func (c FTPConfig) Enabled() bool { return c.Addr != "" }

func (c FTPConfig) Publisher() *export.FTPPublisher {
	return export.NewFTPPublisher(export.FTPConfig{
		Addr:     c.Addr,
		User:     c.User,
		Password: c.Password,
		Dir:      c.Dir,
		Timeout:  c.Timeout,
	})
}

type ServerConfig struct {
	Addr        string        `name:"addr" env:"POWERDASH_ADDR" default:":8080" help:"HTTP listen address."`
	Origins     []string      `name:"cors-origin" env:"POWERDASH_CORS_ORIGINS" default:"*" help:"Origins allowed to call the API."`
	RateLimit   float64       `name:"rate-limit" env:"POWERDASH_RATE_LIMIT" default:"20" help:"Sustained API requests per second. Zero disables limiting."`
	RateBurst   int           `name:"rate-burst" env:"POWERDASH_RATE_BURST" default:"40" help:"Requests allowed in a burst above the rate limit."`
	ReadTimeout time.Duration `name:"read-timeout" env:"POWERDASH_READ_TIMEOUT" default:"15s" help:"HTTP read timeout."`
	Concurrency int           `name:"page-concurrency" env:"POWERDASH_PAGE_CONCURRENCY" default:"4" help:"Views computed at once for the dashboard page."`
}

type RefreshConfig struct {
	WarmInterval  time.Duration `name:"warm-interval" env:"POWERDASH_WARM_INTERVAL" default:"0s" help:"Recompute the dashboard views this often. Zero disables warming."`
	PublishHour   int           `name:"publish-hour" env:"POWERDASH_PUBLISH_HOUR" default:"6" help:"Local hour the daily export is published over FTP."`
	PublishFormat string        `name:"publish-format" env:"POWERDASH_PUBLISH_FORMAT" enum:"csv,xlsx" default:"csv" help:"Format of the daily export."`
}
