// serve.go - Start und Stopp des Transports
// Enthaelt: Serve() - bedient einen Listener bis der Kontext endet

package runner

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long running steps may take to finish
const shutdownTimeout = 10 * time.Second

// Serve serves w on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, w Worker) error {
	s := NewServer(w, ln.Addr())
	srv := &http.Server{Handler: s.Routes()}

	slog.Info("listening", "addr", ln.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
