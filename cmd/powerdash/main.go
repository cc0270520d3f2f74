package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"

	"github.com/lox/powerdash/internal/api"
	"github.com/lox/powerdash/internal/config"
	"github.com/lox/powerdash/internal/dashboard"
	"github.com/lox/powerdash/internal/export"
	"github.com/lox/powerdash/internal/refresh"
	"github.com/lox/powerdash/internal/store"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`

	Log   config.LogConfig   `embed:""`
	Time  config.TimeConfig  `embed:""`
	Store config.StoreConfig `embed:""`

	Serve   serveCmd   `cmd:"" default:"1" help:"Serve the dashboard API."`
	Migrate migrateCmd `cmd:"" help:"Create or upgrade the local SQLite schema."`
	Seed    seedCmd    `cmd:"" help:"Load a YAML fixtures file into the local SQLite database."`
	Export  exportCmd  `cmd:"" help:"Write merged forecast rows to a CSV or XLSX file."`
}

type serveCmd struct {
	Server  config.ServerConfig  `embed:""`
	Cache   config.CacheConfig   `embed:""`
	Refresh config.RefreshConfig `embed:""`
	FTP     config.FTPConfig     `embed:""`
}

func (c *serveCmd) Run(ctx context.Context, sc *config.StoreConfig) error {
	src, closeSrc, err := sc.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer closeSrc()

	views, closeCache, err := c.Cache.Open(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	svc := dashboard.NewService(src, views, dashboard.WithPageConcurrency(c.Server.Concurrency))

	var publisher refresh.Publisher
	if c.FTP.Enabled() {
		publisher = c.FTP.Publisher()
	}
	if publisher != nil || c.Refresh.WarmInterval > 0 {
		scheduler := refresh.NewScheduler(svc, publisher, refresh.Config{
			WarmInterval: c.Refresh.WarmInterval,
			PublishHour:  c.Refresh.PublishHour,
			Format:       export.Format(c.Refresh.PublishFormat),
		})
		go scheduler.Run(ctx)
	}

	server := api.NewServer(svc, api.Config{
		Addr:        c.Server.Addr,
		Origins:     c.Server.Origins,
		RateLimit:   c.Server.RateLimit,
		RateBurst:   c.Server.RateBurst,
		ReadTimeout: c.Server.ReadTimeout,
	})
	return server.Run(ctx)
}

type migrateCmd struct{}

func (c *migrateCmd) Run(ctx context.Context, sc *config.StoreConfig) error {
	st, err := sc.OpenSQLite(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("database migrated", zap.String("path", sc.SQLitePath), zap.Int("version", version))
	return nil
}

type seedCmd struct {
	Path string `arg:"" type:"existingfile" help:"Fixtures YAML file."`
}

func (c *seedCmd) Run(ctx context.Context, sc *config.StoreConfig) error {
	st, err := sc.OpenSQLite(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(c.Path)
	if err != nil {
		return eris.Wrap(err, "seed: open fixtures")
	}
	defer f.Close()

	fx, err := store.LoadFixtures(f)
	if err != nil {
		return err
	}
	return st.Seed(ctx, fx)
}

type exportCmd struct {
	Format  string `enum:"csv,xlsx" default:"csv" help:"Output format (csv, xlsx)."`
	State   string `help:"Only export this state (UUID)."`
	Start   string `help:"First day to export (YYYY-MM-DD). Defaults to 30 days ago."`
	End     string `help:"Last day to export (YYYY-MM-DD). Defaults to a week from today."`
	Out     string `short:"o" help:"Output directory." default:"."`
	Publish bool   `help:"Upload the export to the configured FTP drop."`

	FTP config.FTPConfig `embed:""`
}

func (c *exportCmd) Run(ctx context.Context, sc *config.StoreConfig) error {
	log := zap.L().With(zap.String("component", "export"))

	if c.State != "" {
		id, err := uuid.Parse(c.State)
		if err != nil {
			return eris.Wrapf(err, "export: state %q", c.State)
		}
		c.State = id.String()
	}
	if c.Publish && !c.FTP.Enabled() {
		return eris.New("export: --publish needs --ftp-addr")
	}
	format, err := export.ParseFormat(c.Format)
	if err != nil {
		return err
	}

	src, closeSrc, err := sc.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer closeSrc()

	svc := dashboard.NewService(src, nil)
	window, err := dashboard.ParseExportWindow(svc.Today(), c.Start, c.End)
	if err != nil {
		return err
	}
	rows, err := svc.ExportRows(ctx, c.State, window)
	if err != nil {
		return err
	}

	name := export.Filename(window, format)
	path := filepath.Join(c.Out, name)
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	if err := export.Write(f, format, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "export: close file")
	}
	log.Info("export written", zap.String("path", path), zap.Int("rows", len(rows)), zap.Stringer("window", window))

	if !c.Publish {
		return nil
	}
	f, err = os.Open(path)
	if err != nil {
		return eris.Wrap(err, "export: reopen file")
	}
	defer f.Close()
	return c.FTP.Publisher().Publish(ctx, name, format, f)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("powerdash"),
		kong.Description("Electricity forecast dashboard for Indian states."),
		kong.UsageOnError(),
	)

	kctx.FatalIfErrorf(config.InitLogger(cli.Log))
	defer zap.L().Sync()
	cli.Time.Apply()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	kctx.BindTo(ctx, (*context.Context)(nil))

	if err := kctx.Run(&cli.Store); err != nil {
		zap.L().Error("command failed", zap.String("command", kctx.Command()), zap.Error(err))
		cancel()
		zap.L().Sync()
		os.Exit(1)
	}
}
