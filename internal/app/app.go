// Package app wires the service together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/garbage-api/internal/classes"
	"github.com/Brownie44l1/garbage-api/internal/config"
	"github.com/Brownie44l1/garbage-api/internal/handlers"
	"github.com/Brownie44l1/garbage-api/internal/inference"
	"github.com/Brownie44l1/garbage-api/internal/metrics"
	"github.com/Brownie44l1/garbage-api/internal/model"
	"github.com/Brownie44l1/garbage-api/internal/router"
)

// LoadedModel is a model that holds resources until closed.
type LoadedModel interface {
	inference.Model
	Close()
}

// ModelLoader opens the model artifact.
type ModelLoader func(opts model.Options) (LoadedModel, error)

// ONNXLoader loads models through ONNX Runtime.
func ONNXLoader(opts model.Options) (LoadedModel, error) {
	h, err := model.Load(opts)
	if err != nil {
		return nil, err
	}
	return h, nil
}

type App struct {
	cfg     *config.Config
	loader  ModelLoader
	metrics *metrics.Metrics
	handler *handlers.Handler
	engine  *gin.Engine

	mu    sync.Mutex
	model LoadedModel
}

// New builds the application context. Nothing is loaded until Run.
func New(cfg *config.Config, loader ModelLoader) *App {
	if loader == nil {
		loader = ONNXLoader
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enable {
		m = metrics.New()
	}
	h := handlers.NewHandler(cfg.Server.MaxUploadBytes)
	engine := router.NewRouter(h, router.Options{
		AllowOrigins: cfg.Server.AllowOrigins,
		Metrics:      m,
		MetricsPath:  cfg.Metrics.Path,
	})
	return &App{
		cfg:     cfg,
		loader:  loader,
		metrics: m,
		handler: h,
		engine:  engine,
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.engine
}

// Run listens on the configured port until ctx is done or startup fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln right away and loads the model in the
// background. Until the load finishes /health reports "loading"; a failed
// load stops the server and is returned.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.engine,
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		svc, err := a.load()
		if err != nil {
			return err
		}
		a.handler.SetPredictor(svc)
		slog.Info("ready to serve predictions")
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(a.cfg.Server.ShutdownTimeoutSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server failed to shutdown", slog.Any("error", err))
		}
		return nil
	})

	err := g.Wait()
	a.Close()
	slog.Info("server stopped")
	return err
}

func (a *App) load() (*inference.Service, error) {
	svc, mdl, err := Load(a.cfg, a.loader, a.metrics)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.model = mdl
	a.mu.Unlock()
	return svc, nil
}

// Close releases the model, if one was loaded.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model != nil {
		a.model.Close()
		a.model = nil
	}
}

// Load opens the model first so the class mapping can fall back to the
// model's output width. m may be nil.
func Load(cfg *config.Config, loader ModelLoader, m *metrics.Metrics) (*inference.Service, LoadedModel, error) {
	slog.Info("loading model", slog.String("path", cfg.Model.Path))
	mdl, err := loader(model.Options{
		Path:              cfg.Model.Path,
		SharedLibraryPath: cfg.Model.SharedLibraryPath,
		InputName:         cfg.Model.InputName,
		OutputName:        cfg.Model.OutputName,
	})
	if err != nil {
		return nil, nil, err
	}

	mapping, err := classes.Load(cfg.Model.ClassesPath, mdl.NumClasses())
	if err != nil {
		mdl.Close()
		return nil, nil, err
	}

	switch {
	case mapping.Fallback():
		slog.Warn("serving with synthetic class labels",
			slog.String("classes_path", cfg.Model.ClassesPath),
			slog.Int("num_classes", mapping.Len()))
	case mapping.Len() != mdl.NumClasses():
		slog.Warn("class mapping size differs from model output",
			slog.Int("mapping", mapping.Len()),
			slog.Int("model", mdl.NumClasses()))
	}

	shape := mdl.InputShape()
	slog.Info("model ready",
		slog.Int("num_classes", mdl.NumClasses()),
		slog.String("input", fmt.Sprintf("%dx%dx%d", shape.Height, shape.Width, shape.Channels)),
		slog.String("classes_source", mapping.Source()),
		slog.Bool("classes_fallback", mapping.Fallback()))

	return inference.NewService(mdl, mapping, cfg.Model.TopK, m), mdl, nil
}
