package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	readTimeout     = 5 * time.Second
	shutdownTimeout = 5 * time.Second
	handlerTimeout  = 5 * time.Second
)

// Serve listens on port until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, handler http.Handler, port int) error {
	log := log.With().Str("pkg", "server").Logger()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		// Instead of setting WriteTimeout, we use http.TimeoutHandler to specify the maximum amount of time for a handler to complete.
		Handler: http.TimeoutHandler(handler, handlerTimeout, ""),
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("status server listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			log.Err(err).Msg("listen error")

			return err
		}

		return nil
	case <-ctx.Done():
	}

	// The server has shutdownTimeout to finish the requests it is currently handling.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Err(err).Msg("forced to shut down")

		return err
	}

	log.Info().Msg("exiting")

	return nil
}
