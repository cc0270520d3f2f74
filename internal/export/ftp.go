package export

import (
	"context"
	"io"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lox/powerdash/internal/metrics"
)

type FTPConfig struct {
	Addr     string
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
}

// FTPPublisher uploads exports to a drop directory. Files are stored under a
// temporary name and renamed once complete so readers never see a partial
// upload.
type FTPPublisher struct {
	cfg FTPConfig
}

func NewFTPPublisher(cfg FTPConfig) *FTPPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.User == "" {
		cfg.User = "anonymous"
		cfg.Password = "anonymous@"
	}
	return &FTPPublisher{cfg: cfg}
}

func (p *FTPPublisher) Publish(ctx context.Context, name string, f Format, r io.Reader) error {
	err := p.publish(ctx, name, r)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ExportsPublished.WithLabelValues(string(f), status).Inc()
	return err
}

func (p *FTPPublisher) publish(ctx context.Context, name string, r io.Reader) error {
	if p.cfg.Addr == "" {
		return eris.New("ftp: no address configured")
	}
	log := zap.L().With(zap.String("component", "ftp"), zap.String("addr", p.cfg.Addr))

	conn, err := ftp.Dial(p.cfg.Addr, ftp.DialWithTimeout(p.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return eris.Wrap(err, "ftp: dial")
	}
	defer conn.Quit()

	if err := conn.Login(p.cfg.User, p.cfg.Password); err != nil {
		return eris.Wrap(err, "ftp: login")
	}

	final := path.Join(p.cfg.Dir, name)
	tmp := final + ".part"
	if err := conn.Stor(tmp, r); err != nil {
		return eris.Wrapf(err, "ftp: store %s", tmp)
	}
	if err := conn.Rename(tmp, final); err != nil {
		return eris.Wrapf(err, "ftp: rename %s", final)
	}

	log.Info("published export", zap.String("path", final))
	return nil
}
