// Package gateway composes the validator, the orchestrator, and the
// response transformer behind one HTTP boundary. It is the only externally
// reachable component; every fault that escapes the tiers below is shaped
// into the fixed error envelope here.
package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/relaygate/relaygate/pkg/config"
	"github.com/relaygate/relaygate/pkg/telemetry"
	"github.com/relaygate/relaygate/pkg/transform"
)

// Server runs the public gateway listener and the admin listener.
type Server struct {
	tel         *telemetry.Telemetry
	transformer *transform.Transformer

	runtime atomic.Pointer[Runtime]

	// configPath enables hot reload when non-empty.
	configPath string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithConfigPath enables configuration hot reload from the given file.
func WithConfigPath(path string) ServerOption {
	return func(s *Server) { s.configPath = path }
}

// NewServer creates a server for the given configuration.
func NewServer(cfg *config.Config, tel *telemetry.Telemetry, opts ...ServerOption) (*Server, error) {
	rt, err := NewRuntime(cfg, tel)
	if err != nil {
		return nil, err
	}

	s := &Server{
		tel:         tel,
		transformer: transform.New(),
	}
	s.runtime.Store(rt)

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reload materializes a new configuration and swaps it in atomically.
// In-flight requests finish against the runtime they started with.
func (s *Server) Reload(cfg *config.Config) error {
	rt, err := NewRuntime(cfg, s.tel)
	if err != nil {
		return err
	}
	s.runtime.Store(rt)
	s.tel.Logger.Infof("configuration reloaded: %d routes, %d backends",
		len(cfg.Routes), len(cfg.Backends))
	return nil
}

// Run serves until the context is cancelled, then drains both listeners
// within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.runtime.Load().cfg

	public := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: s.publicHandler(),
	}
	admin := &http.Server{
		Addr:    cfg.Server.AdminListen,
		Handler: s.adminHandler(),
	}

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.tel.Logger.Infof("gateway listening on %s", public.Addr)
		if err := public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.tel.Logger.Infof("admin listening on %s", admin.Addr)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if s.configPath != "" {
		watcher := config.NewWatcher(s.configPath,
			func(next *config.Config) {
				if err := s.Reload(next); err != nil {
					s.tel.Logger.WithError(err).Error("reload rejected, keeping previous configuration")
				}
			},
			func(err error) {
				s.tel.Logger.WithError(err).Warn("configuration reload failed")
			},
		)
		g.Go(func() error {
			if err := watcher.Run(runCtx); err != nil && !stderrors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-runCtx.Done()

		grace := cfg.Server.ShutdownGrace.Std()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		s.tel.Logger.Info("shutting down")
		if err := public.Shutdown(shutdownCtx); err != nil {
			public.Close()
		}
		if err := admin.Shutdown(shutdownCtx); err != nil {
			admin.Close()
		}
		return nil
	})

	return g.Wait()
}

// publicHandler wraps the gateway handler with panic recovery.
func (s *Server) publicHandler() http.Handler {
	return s.recoverPanics(http.HandlerFunc(s.handleRequest))
}

// adminHandler serves health, metrics, and the resolved route table.
func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if s.tel.Metrics != nil {
		mux.Handle("/metrics", s.tel.Metrics.Handler())
	}

	mux.HandleFunc("/routes", func(w http.ResponseWriter, r *http.Request) {
		rt := s.runtime.Load()

		type routeInfo struct {
			Name         string   `json:"name"`
			Method       string   `json:"method"`
			Path         string   `json:"path"`
			Policy       string   `json:"policy"`
			AllowPartial bool     `json:"allow_partial"`
			Calls        []string `json:"calls"`
		}

		infos := make([]routeInfo, 0, len(rt.cfg.Routes))
		for _, rc := range rt.cfg.Routes {
			calls := make([]string, 0, len(rc.Calls))
			for _, c := range rc.Calls {
				calls = append(calls, c.Name)
			}
			infos = append(infos, routeInfo{
				Name:         rc.Name,
				Method:       rc.Method,
				Path:         rc.Path,
				Policy:       string(rc.Policy),
				AllowPartial: rc.AllowPartial,
				Calls:        calls,
			})
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"routes":   infos,
			"breakers": rt.Breakers(),
		})
	})

	return mux
}

// recoverPanics converts any panic below the entry point into an internal
// error envelope so no fault reaches a client unshaped.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.tel.Logger.WithField("panic", rec).Error("recovered panic in request handler")
				writeResponse(w, s.transformer.Error(panicError(rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeResponse serializes a shaped response.
func writeResponse(w http.ResponseWriter, resp transform.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp.Body)
}
