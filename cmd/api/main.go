package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"medcabinet.org/internal/auth"
	"medcabinet.org/internal/config"
	"medcabinet.org/internal/documents"
	"medcabinet.org/internal/grpcapi"
	"medcabinet.org/internal/httpapi"
	"medcabinet.org/internal/obs"
	"medcabinet.org/internal/store/pg"
	redisstore "medcabinet.org/internal/store/redis"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid LOG_LEVEL")
	}
	log = obs.Logger()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		users    auth.UserStore
		sessions auth.SessionStore
		probe    httpapi.ReadyProbe
		db       *sql.DB
		rdb      *goredis.Client
	)
	if cfg.DatabaseURL != "" {
		store, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		db = store.DB()
		users, sessions = store.Users(), store.Sessions()
		probe.DB = db
	} else {
		if !cfg.IsDevelopment() {
			log.Fatal().Msg("DATABASE_URL is required outside development")
		}
		log.Warn().Msg("DATABASE_URL not set, using in-memory stores")
		users, sessions = auth.NewMemoryUserStore(), auth.NewMemorySessionStore()
	}
	if cfg.RedisURL != "" {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err = redisstore.Connect(cctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		sessions = redisstore.NewSessionStore(rdb)
		probe.Redis = rdb
		log.Info().Msg("sessions stored in redis")
	}

	hasher, err := auth.NewPINHasher(cfg.PINSalt, cfg.PINBcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("pin hasher")
	}
	svc, err := auth.NewService(users, sessions, hasher,
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithLockout(cfg.LockoutAttempts, cfg.LockoutDuration),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("auth service")
	}

	var genOpts []documents.GeneratorOption
	switch {
	case cfg.PDFRenderer == "local":
		genOpts = append(genOpts, documents.WithLocalPDF())
	case cfg.PDFRenderer == "pdflayer" && cfg.PDFLayerAPIKey != "":
		genOpts = append(genOpts, documents.WithConverter(documents.NewPDFLayer(cfg.PDFLayerAPIKey, cfg.PDFLayerURL)))
	default:
		log.Info().Str("renderer", cfg.PDFRenderer).Msg("server-side PDF disabled, clients render from HTML")
	}

	api := httpapi.New(httpapi.Options{
		Version:                version,
		Ready:                  probe,
		Auth:                   svc,
		Documents:              documents.NewGenerator(genOpts...),
		RequireDocumentSession: cfg.DocumentsRequireSession,
		RateBurst:              cfg.RateBurst,
		RatePerSec:             cfg.RatePerSec,
		MaxBodyBytes:           cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
		}
		grpcSrv = grpcapi.NewServer(probe)
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Error().Err(err).Msg("grpc serve")
				stop()
			}
		}()
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("env", cfg.Env).Msg("starting " + obs.ServiceName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listen")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info().Msg("stopped")
}
