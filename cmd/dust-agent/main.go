package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	dust "github.com/st-keller/dust-client"
	"github.com/st-keller/dust-client/environment"
	"github.com/st-keller/dust-client/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config file")
	page := flag.String("page", "", "Page URL to report for (overrides config)")
	browser := flag.Bool("browser", false, "Read the environment from a headless Chrome page")
	controlURL := flag.String("browser-url", "", "DevTools URL of a running browser (launches one when empty)")
	stealthy := flag.Bool("stealth", false, "Hide headless markers from the page (with -browser)")
	flag.Parse()

	cfg, err := dust.LoadConfigFile(*configPath)
	if err != nil {
		return err
	}
	if *page != "" {
		cfg.PageURL = *page
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []dust.Option{dust.WithLogger(log)}

	if *browser {
		if cfg.PageURL == "" {
			return fmt.Errorf("-browser needs a page URL")
		}

		src, closeBrowser, err := environment.OpenBrowserSource(ctx, environment.BrowserOptions{
			ControlURL: *controlURL,
			PageURL:    cfg.PageURL,
			CookieURL:  cfg.CollectorURL,
			Stealth:    *stealthy,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := closeBrowser(); err != nil {
				log.Warn().Err(err).Msg("Failed to close browser")
			}
		}()

		opts = append(opts, dust.WithSource(src))
	}

	client, err := dust.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create dust client: %w", err)
	}
	defer client.Stop()

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dust client: %w", err)
	}

	select {
	case res := <-client.Loaded():
		ev := log.Info().
			Str("session", res.Session).
			Bool("address", res.Address.Usable()).
			Bool("sent", res.Sent).
			Str("fingerprint", res.Fingerprint)
		for key, outcome := range res.Mirrored {
			ev = ev.Str("mirror_"+key, string(outcome))
		}
		ev.Msg("Load sequence finished")
	case <-ctx.Done():
	}

	<-ctx.Done()

	s := client.HeartbeatState()
	log.Info().
		Uint64("beats", s.Count).
		Uint64("success", s.SuccessCount).
		Uint64("fail", s.FailCount).
		Interface("connectivity", client.Connectivity().Stats()).
		Interface("diagnostics", client.RecentLogs().GetData()).
		Msg("Shutting down")

	return nil
}
