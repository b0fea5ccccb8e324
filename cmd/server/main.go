package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/db"
	clog "relaychat/internal/log"
	"relaychat/internal/mw"
	"relaychat/internal/registry"
	"relaychat/internal/server"
	"relaychat/internal/service"
	"relaychat/internal/store"
	"relaychat/internal/ws"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"
)

func main() {
	// main 负责加载配置、初始化日志、选择存储并启动 HTTP/WebSocket 服务。
	configPath := pflag.String("config", "", "YAML config file, applied on top of the environment")
	port := pflag.String("port", "", "listen port, overrides APP_PORT")
	pflag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath, cfg); err != nil {
			clog.Init(cfg.Env, cfg.LogLevel)
			log.Fatal().Err(err).Msg("load config")
		}
	}
	if *port != "" {
		cfg.Port = *port
	}
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	st := openStore(cfg)
	reg := registry.New(st, clog.For("registry"))
	svc := service.New(st, reg, service.Options{
		JWTSecret:       cfg.JWTSecret,
		TokenTTLMinutes: cfg.AccessTokenTTLMinutes,
		HistoryLimit:    cfg.HistoryLimit,
	}, clog.For("service"))

	limiter := mw.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 10*time.Minute)
	hub := ws.NewHub()
	r := server.SetupRouter(cfg, svc, st, hub, limiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.Shutdown(ctx)
	closed := hub.CloseAll()
	limiter.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Int("closed_connections", closed).Msg("bye")
}

func openStore(cfg config.Config) store.Store {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return store.NewMemory()
	}
	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	return db.NewStore(gdb)
}
