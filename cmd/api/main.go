package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sheetapp/api/internal/app"
	"sheetapp/api/internal/cache"
	"sheetapp/api/internal/config"
	"sheetapp/api/internal/email"
	"sheetapp/api/internal/export"
	"sheetapp/api/internal/gitrepo"
	"sheetapp/api/internal/search"
	"sheetapp/api/internal/session"
	"sheetapp/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	if version, err := store.SchemaVersion(ctx, db, cfg.MigrationsDir); err == nil {
		log.Info().Int64("schema_version", version).Msg("database schema ready")
	}

	dataStore := store.NewPostgresStore(db)
	service := app.New(cfg, dataStore)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		log.Info().Msg("using redis for refresh sessions and page cache")
		service.WithSessionStore(redisStore).
			WithPageCache(cache.NewPageCache(redisStore.Client(), cfg.CacheTTL.Duration()))
	} else {
		log.Info().Msg("using postgres for refresh sessions, page cache disabled")
	}

	pgfts := search.NewPgFTS(db)
	// a typed nil *Meili must not reach NewService as a non-nil Index
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, pgfts)
	service.WithSearch(searchService)
	go searchService.ReindexAllFromPG(context.Background())

	if strings.TrimSpace(cfg.ReposDir) != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.ReposDir).Msg("failed to create repos dir")
		}
		service.WithGit(gitrepo.New(cfg.ReposDir))
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := export.NewObjectStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioBucket, cfg.MinioUseSSL, cfg.MinioURLTTL.Duration())
		if err != nil {
			log.Fatal().Err(err).Msg("object storage client failed")
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := objects.EnsureBucket(bucketCtx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.MinioBucket).Msg("export archive unavailable")
		} else {
			service.WithArchive(objects)
		}
		cancel()
	}

	if strings.TrimSpace(cfg.GoogleCredentialsFile) != "" {
		sheets, err := export.NewGoogleSheets(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			log.Warn().Err(err).Msg("google sheets publishing unavailable")
		} else {
			service.WithPublisher(sheets)
		}
	}

	service.WithMailer(email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}))

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("sheetapp api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if strings.EqualFold(cfg.LogFormat, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
