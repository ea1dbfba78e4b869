// Package server wires the FileVault components together and runs the HTTP
// API, the optional gRPC health endpoint and the session sweeper until the
// process is told to stop.
package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/filex"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/blobs"
	"github.com/dmitrijs2005/filevault/internal/server/config"
	"github.com/dmitrijs2005/filevault/internal/server/filestore"
	"github.com/dmitrijs2005/filevault/internal/server/httpapi"
	"github.com/dmitrijs2005/filevault/internal/server/jobs"
	"github.com/dmitrijs2005/filevault/internal/server/layout"
	"github.com/dmitrijs2005/filevault/internal/server/metadata"
	"github.com/dmitrijs2005/filevault/internal/server/sessions"
	"github.com/dmitrijs2005/filevault/internal/server/uploads"

	gs "github.com/dmitrijs2005/filevault/internal/server/grpc"
)

// saltFile holds the generated key derivation salt inside the data directory.
const saltFile = ".salt"

// shutdownTimeout bounds draining HTTP requests and background jobs.
const shutdownTimeout = 30 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	runner   *jobs.Runner
	sessions *sessions.Manager
	handler  http.Handler
	health   *gs.HealthServer

	mu   sync.Mutex
	addr net.Addr
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	base, err := filex.EnsureDir(c.DataPath)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	l := layout.New(base)

	salt, err := keySalt(c.KeySalt, base)
	if err != nil {
		return nil, fmt.Errorf("key salt: %w", err)
	}

	secret := []byte(c.SecretKey)
	if len(secret) == 0 {
		secret = common.GenerateRandByteArray(32)
		logger.Warn(ctx, "no secret key configured, session tokens will not survive a restart")
	}

	bs, err := newBlobStore(ctx, c, base)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	runner := jobs.NewRunner(c.JobConcurrency, logger)
	assembler := uploads.NewAssembler(l, c.MaxChunkSize, logger)
	sm := sessions.NewManager(sessions.Config{
		MaxSessionTime: c.MaxSessionTime,
		SweepInterval:  c.SweepInterval,
		Salt:           salt,
		OnPurge:        assembler.DiscardSession,
	}, l, runner, logger)

	svc := filestore.NewService(
		sm,
		metadata.NewStore(l, logger),
		assembler,
		bs,
		l,
		logger,
	)

	h := httpapi.NewHandler(httpapi.Config{
		SecretKey:    secret,
		MaxChunkSize: c.MaxChunkSize,
		SessionRate:  rate.Limit(c.SessionRateLimit),
		SessionBurst: 3,
	}, sm, svc, logger)

	app := &App{
		config:   c,
		logger:   logger,
		runner:   runner,
		sessions: sm,
		handler:  httpapi.AccessLog(logger)(h),
	}
	if c.EndpointAddrGRPC != "" {
		app.health = gs.NewHealthServer(c.EndpointAddrGRPC, logger)
	}
	return app, nil
}

func newBlobStore(ctx context.Context, c *config.Config, base string) (blobs.Store, error) {
	switch strings.ToLower(c.BlobBackend) {
	case "", "fs":
		return blobs.NewFSStore(base)
	case "s3":
		return blobs.NewS3Store(ctx, blobs.S3Config{
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
}

// keySalt returns the configured salt or the one persisted in dir,
// creating it on first use. The salt must stay stable: every stored
// document is encrypted under keys derived with it.
func keySalt(configured, dir string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}

	path := filepath.Join(dir, saltFile)
	data, err := os.ReadFile(path)
	if err == nil {
		return hex.DecodeString(strings.TrimSpace(string(data)))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	salt := common.GenerateRandByteArray(16)
	err = filex.WriteAtomic(path, func(w io.Writer) error {
		_, err := w.Write([]byte(hex.EncodeToString(salt)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return salt, nil
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Addr is the HTTP listen address once Run has bound it.
func (app *App) Addr() net.Addr {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.addr
}

func (app *App) startHTTPServer(ctx context.Context, g *errgroup.Group) error {
	ln, err := net.Listen("tcp", app.config.EndpointAddrHTTP)
	if err != nil {
		return err
	}
	app.mu.Lock()
	app.addr = ln.Addr()
	app.mu.Unlock()

	srv := &http.Server{
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		app.logger.Info(ctx, "Starting HTTP server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return nil
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// stops the sweeper, drains HTTP and gRPC and waits for in-flight jobs.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(ctx, cancelFunc)

	g, gctx := errgroup.WithContext(ctx)

	app.sessions.Start(gctx)

	if err := app.startHTTPServer(gctx, g); err != nil {
		cancelFunc()
		app.sessions.Close()
		return err
	}

	if app.health != nil {
		g.Go(func() error {
			return app.health.Run(gctx)
		})
	}

	err := g.Wait()

	app.sessions.Close()

	jobsCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if jerr := app.runner.Shutdown(jobsCtx); jerr != nil {
		app.logger.Warn(context.Background(), "background jobs did not finish", "error", jerr)
	}

	app.logger.Info(context.Background(), "App stopped")
	return err
}
