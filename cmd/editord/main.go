package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ncecere/carving_editor/internal/app"
	"github.com/ncecere/carving_editor/internal/config"
	"github.com/ncecere/carving_editor/internal/httpserver"
	"github.com/ncecere/carving_editor/internal/redisclient"
)

func main() {
	configFile := flag.String("config", "", "path to editor.yaml")
	envFile := flag.String("env", "", "dotenv file to load instead of .env/.env.local")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	redisClient := redisclient.New(cfg.Redis)
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		log.Fatalf("connect redis: %v", err)
	}

	container, err := app.NewContainer(ctx, cfg, redisClient)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(shutdownCtx); err != nil {
			log.Printf("close container: %v", err)
		}
	}()

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	log.Printf("carving editor listening on %s (provider=%s)", cfg.Server.ListenAddr, cfg.Providers.Primary)
	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("server stopped: %v", err)
	}
}
