// Package server exposes a running simulation over HTTP (status JSON and
// Prometheus metrics) and gRPC (the Observatory service).
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/ChuLiYu/epiflight/pkg/types"
)

// StatusSource is the read-only view the servers publish.
type StatusSource interface {
	Status() types.Status
	CountryStatus(code string) (types.CountryStatus, bool)
}

const shutdownTimeout = 5 * time.Second

// ServeHTTP serves h on addr until ctx is done, then shuts down gracefully.
func ServeHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("HTTP server stopped", "addr", addr)
	return nil
}

// ServeGRPC serves the Observatory on lis until ctx is done.
func ServeGRPC(ctx context.Context, lis net.Listener, src StatusSource) error {
	s := grpc.NewServer()
	RegisterObservatory(s, NewObservatory(src))

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		errCh <- s.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		s.Stop()
	}
	slog.Info("gRPC server stopped")
	return nil
}
