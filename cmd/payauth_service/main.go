package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"payauth_service/internal/app"
	"payauth_service/internal/config"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	//PARSE ARGS
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to yaml config")

	flag.Parse()
	if configPath == "" {
		log.Fatal("failed get config path from flags")
	}

	cfg := config.MustLoadConfig(configPath)

	//INIT LOGGER
	lgr := setupLogger(cfg.Env)
	lgr.Info("starting payauth service", slog.String("env", cfg.Env))

	//INIT APP
	ctx := context.Background()

	application, err := app.New(ctx, lgr, cfg)
	if err != nil {
		lgr.Error("failed to init app", slog.String("error", err.Error()))
		os.Exit(1)
	}

	//INIT SERVER
	if err := application.Start(); err != nil {
		lgr.Error("failed to start http server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.HTTPServer.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"payauth_service": func(ctx context.Context) error {
				lgr.Info("graceful shutdown initiated")
				return application.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	lgr.Info("payauth service exited", slog.Int("code", exitCode))
	os.Exit(exitCode)
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}
	return log
}
