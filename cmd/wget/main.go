package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Tamillat/wget/internal/config"
	"github.com/Tamillat/wget/internal/ftploop"
	"github.com/Tamillat/wget/internal/httploop"
	"github.com/Tamillat/wget/internal/progress"
	"github.com/Tamillat/wget/internal/proxy"
	"github.com/Tamillat/wget/internal/quota"
	"github.com/Tamillat/wget/internal/recur"
	"github.com/Tamillat/wget/internal/registry"
	"github.com/Tamillat/wget/internal/retrieve"
	"github.com/Tamillat/wget/internal/robots"
	"github.com/Tamillat/wget/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "", "path to configuration file")
	inputFile := flag.String("input-file", "", "file listing URLs to retrieve")
	forceHTML := flag.Bool("force-html", false, "treat the input file as HTML")
	outputDir := flag.String("output-dir", "", "directory to save files into (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}

	if len(flag.Args()) == 0 && *inputFile == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: pass URLs as arguments or use -input-file")
		os.Exit(2)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, flag.Args(), *inputFile, *forceHTML, logger)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, cfg config.Config, urls []string, inputFile string, forceHTML bool, logger *slog.Logger) int {
	tracker := quota.NewTracker(cfg.Limits.Quota.Bytes)
	pacer := quota.NewPacer(cfg.Limits.Wait.Duration, cfg.Limits.WaitRetry.Duration)
	resolver := proxy.NewResolver(cfg.Proxy)

	var progressFactory progress.Factory
	if cfg.Output.Progress {
		progressFactory = progress.BarFactory(os.Stderr)
	}

	httpLoop := httploop.New(httploop.Options{
		UserAgent: cfg.HTTP.UserAgent,
		Headers:   cfg.HTTP.Headers,
		Timeout:   cfg.HTTP.Timeout.Duration,
		OutputDir: cfg.Output.Dir,
		Continue:  cfg.Output.Continue,
		Progress:  progressFactory,
	}, tracker, logger)

	ftpLoop := ftploop.New(ftploop.Options{
		User:      cfg.FTP.User,
		Password:  cfg.FTP.Password,
		Timeout:   cfg.FTP.Timeout.Duration,
		OutputDir: cfg.Output.Dir,
		Continue:  cfg.Output.Continue,
		Progress:  progressFactory,
	}, tracker, logger)

	var manifest *registry.Manifest
	if cfg.DB.Driver != "" {
		var err error
		manifest, err = registry.OpenManifest(cfg.DB)
		if err != nil {
			logger.Error("manifest unavailable", "error", err)
			return 1
		}
		defer manifest.Close()
	}
	store := registry.NewStore(manifest, logger)

	retriever := retrieve.New(httpLoop, ftpLoop, resolver, store, cfg.Recur.Enabled, cfg.HTTP.Referer, logger)

	var walker *recur.Walker
	if cfg.Recur.Enabled {
		agent := robots.NewAgent(cfg.Robots, httpLoop.Client())
		walker = recur.NewWalker(cfg.Recur, retriever, agent, tracker, logger)
	}

	exitCode := 0

	for _, raw := range urls {
		if tracker.Exceeded() {
			logger.Warn("download quota exceeded, skipping remaining URLs",
				"downloaded", tracker.Total())
			break
		}
		res, err := retrieveWithRetries(ctx, retriever, pacer, cfg.Limits.Tries, raw, logger)
		if err != nil {
			logger.Error("giving up", "url", raw, "error", err)
			exitCode = 1
			if ctx.Err() != nil {
				return exitCode
			}
			continue
		}
		if walker != nil && res.Flags.Succeeded && res.Flags.IsHTML && res.LocalFile != "" {
			walker.Reset()
			if err := walker.Expand(ctx, res.LocalFile, res.FinalURL); err != nil {
				logger.Warn("recursive expansion stopped", "url", res.FinalURL, "error", err)
			}
		}
	}

	if inputFile != "" {
		var traverser retrieve.Traverser
		if walker != nil {
			traverser = walker
		}
		dispatcher := retrieve.NewDispatcher(retriever, tracker, traverser,
			cfg.Recur.Enabled, cfg.Output.DeleteAfter, logger)
		count, err := dispatcher.RetrieveAll(ctx, inputFile, forceHTML)
		switch {
		case errors.Is(err, types.ErrQuotaExceeded):
			logger.Warn("batch stopped by quota", "attempted", count)
		case err != nil:
			logger.Error("batch failed", "attempted", count, "error", err)
			exitCode = 1
		default:
			logger.Info("batch finished", "attempted", count)
		}
	}

	logger.Info("done",
		"retrieved", retriever.Completed(),
		"downloaded_bytes", tracker.Total(),
	)
	return exitCode
}

// retrieveWithRetries paces and repeats a retrieval on transient failures.
// Parse, proxy, cycle, and local write errors are terminal and never retried.
func retrieveWithRetries(ctx context.Context, retriever *retrieve.Retriever, pacer *quota.Pacer, tries int, rawURL string, logger *slog.Logger) (retrieve.Result, error) {
	var res retrieve.Result
	var err error
	for attempt := 1; attempt <= tries; attempt++ {
		if perr := pacer.SleepBetween(ctx, attempt); perr != nil {
			return res, perr
		}
		res, err = retriever.Retrieve(ctx, rawURL, "")
		if err == nil {
			return res, nil
		}
		if !retryable(err) || attempt == tries {
			return res, err
		}
		logger.Warn("retrying", "url", rawURL, "attempt", attempt, "error", err)
	}
	return res, err
}

func retryable(err error) bool {
	return errors.Is(err, types.ErrConnection) || errors.Is(err, types.ErrRead)
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
