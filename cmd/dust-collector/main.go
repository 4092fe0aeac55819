package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/st-keller/dust-client/collector"
	"github.com/st-keller/dust-client/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	addr := flag.String("addr", ":8080", "Listen address")
	secure := flag.Bool("secure-cookies", false, "Issue Secure, SameSite=None cookies (HTTPS deployments)")
	flag.Parse()

	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           collector.NewServer(collector.ServerOptions{SecureCookies: *secure, Logger: log}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", *addr).Bool("secure_cookies", *secure).Msg("Collector listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info().Msg("Shutting down collector")

	return srv.Shutdown(shutdownCtx)
}
