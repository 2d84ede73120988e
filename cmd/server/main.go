package main // Entry point package

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iliyamo/seat-reservation-pipeline/internal/app"
	"github.com/iliyamo/seat-reservation-pipeline/internal/config"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	instance := pflag.String("instance", "", "instance id, overrides INSTANCE_ID")
	port := pflag.String("port", "", "HTTP port, overrides APP_PORT")
	pflag.Parse()

	// A missing .env is fine; real deployments set the environment directly.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		obs.Logger.Error("load env file", "path", *envFile, "err", err)
		os.Exit(1)
	}
	if *instance != "" {
		os.Setenv("INSTANCE_ID", *instance)
	}
	if *port != "" {
		os.Setenv("APP_PORT", *port)
	}

	cfg, err := config.Load()
	if err != nil {
		obs.Logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	obs.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		obs.Logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		obs.Logger.Error("server stopped", "err", err)
		stop()
		a.Close()
		os.Exit(1)
	}
	obs.Logger.Info("shutdown complete")
}
