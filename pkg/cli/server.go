package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mchmarny/regretguard/pkg/score"
	"github.com/mchmarny/regretguard/pkg/session"
	urfave "github.com/urfave/cli/v2"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 30
	serverMaxHeaderBytes      = 20
)

var (
	portFlag = &urfave.IntFlag{
		Name:  "port",
		Usage: "Port on which the server will listen (default: from config)",
	}

	serverCmd = &urfave.Command{
		Name:    "server",
		Aliases: []string{"serve"},
		Usage:   "Start the local scoring API with a single cooling vault session",
		Action:  cmdStartServer,
		Flags: []urfave.Flag{
			portFlag,
			bundleFlag,
		},
	}
)

func cmdStartServer(c *urfave.Context) error {
	cfg := getConfig(c).Config

	scorer, err := loadScorer(c.Context, cfg, c.String(bundleFlag.Name))
	if err != nil {
		return err
	}

	port := cfg.Server.Port
	if c.IsSet(portFlag.Name) {
		port = c.Int(portFlag.Name)
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	sess := session.New(scorer)
	var m *metrics
	if cfg.Server.MetricsEnabled {
		m = newMetrics()
	}

	s := &http.Server{
		Addr:           address,
		Handler:        makeRouter(scorer, sess, m),
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("server started",
		"address", fmt.Sprintf("http://%s", address),
		"session", sess.ID(),
		"mae", fmt.Sprintf("%.2f", scorer.Bundle().MAE),
	)

	select {
	case <-c.Context.Done():
		slog.Info("shutting down server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error starting server: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error shutting down server", "error", err)
	}
	return nil
}

// makeRouter wires the API. m may be nil when metrics are disabled.
func makeRouter(s *score.Scorer, sess *session.Session, m *metrics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler(s))
	mux.HandleFunc("GET /api/model", modelAPIHandler(s))
	mux.HandleFunc("POST /api/score", scoreAPIHandler(s, m))

	mux.HandleFunc("GET /api/session", sessionAPIHandler(sess))
	mux.HandleFunc("POST /api/session/actions", sessionActionAPIHandler(sess, m))

	mux.HandleFunc("GET /api/vault", vaultAPIHandler(sess))
	mux.HandleFunc("DELETE /api/vault", vaultClearAPIHandler(sess, m))

	if m == nil {
		return mux
	}
	mux.Handle("GET /metrics", m.handler())
	return m.instrument(mux)
}
