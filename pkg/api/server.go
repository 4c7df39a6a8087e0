package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcpdock/mcpdock/pkg/logger"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/mcp") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Router assembles the full route tree for the lifecycle API.
func Router(manager Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
	)

	r.Mount("/mcp", McpRouter(manager))
	r.Mount("/health", HealthcheckRouter())
	return r
}

// Serve runs the API server on the given address until the context ends,
// then drains in-flight requests. The caller sets up signal handling.
func Serve(ctx context.Context, address string, manager Manager) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           Router(manager),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(listener)
	}()
	logger.Infof("HTTP server started on %s", address)

	select {
	case err := <-serveDone:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown failed: %v", err)
		return srv.Close()
	}
	logger.Infof("HTTP server stopped")
	return nil
}
