package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/oarkflow/pop/config"
	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/pophttp"
	"github.com/oarkflow/pop/token"
)

func runServe(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	var addr, trustFiles string
	common.register(fs)
	fs.StringVar(&addr, "addr", ":8080", "Listen address")
	fs.StringVar(&trustFiles, "trust", "", "Comma separated PEM certificates of additional trusted callers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	trusted, err := trustedIdentities(cfg, trustFiles)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := cfg.NewReplayCache(ctx)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	handler, err := newServerHandler(cfg, cfg.NewVerifier(logger, cache), trusted, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pop server listening", zap.String("addr", addr), zap.Int("trusted", len(trusted)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func trustedIdentities(cfg *config.Config, extra string) ([]*identity.Identity, error) {
	var ids []*identity.Identity
	if cfg.Identity.CertFile != "" || cfg.Identity.PKCS12File != "" {
		id, err := cfg.LoadIdentity()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id.Public())
	}
	for _, f := range strings.Split(extra, ",") {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		id, err := identity.LoadPEMFiles(f, "")
		if err != nil {
			return nil, fmt.Errorf("trust %s: %w", f, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no trusted certificates: set an identity or -trust")
	}
	return ids, nil
}

// newServerHandler serves /healthz openly and echoes the accepted claims on
// every other path.
func newServerHandler(cfg *config.Config, v *token.Verifier, trusted []*identity.Identity, logger *zap.Logger) (http.Handler, error) {
	trust, err := pophttp.Trust(trusted...)
	if err != nil {
		return nil, err
	}
	mw := pophttp.NewMiddleware(v, trust, cfg.MiddlewareOptions(logger)...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Handler)
		r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
			claims, _ := pophttp.ClaimsFromContext(r.Context())
			signer, _ := pophttp.IdentityFromContext(r.Context())
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"token":  claims.Token,
				"ts":     claims.Timestamp,
				"x5t":    signer.X5T(),
			})
		})
	})
	return r, nil
}
