package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lufeisan/tornadoforum/internal/app"
	"github.com/lufeisan/tornadoforum/internal/authpw"
	"github.com/lufeisan/tornadoforum/internal/config"
	"github.com/lufeisan/tornadoforum/internal/email"
	"github.com/lufeisan/tornadoforum/internal/media"
	"github.com/lufeisan/tornadoforum/internal/search"
	"github.com/lufeisan/tornadoforum/internal/session"
	"github.com/lufeisan/tornadoforum/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var mediaStore media.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Using MinIO for media storage")
		minioStore, err := media.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		mediaStore = minioStore
	} else {
		log.Printf("Using local directory for media storage")
		localStore, err := media.NewLocalStore(cfg.MediaDir, strings.TrimRight(cfg.SiteURL, "/")+"/media")
		if err != nil {
			log.Fatalf("media dir setup failed: %v", err)
		}
		mediaStore = localStore
	}

	var sessions *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, falling back to PostgreSQL refresh sessions: %v", err)
		} else {
			sessions = redisStore
			defer redisStore.Close()
		}
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	authService := authpw.NewService(dataStore)
	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	var service *app.Service
	if sessions != nil {
		service = app.New(cfg, dataStore, sessions, searchService, mediaStore, authService, emailService)
	} else {
		service = app.New(cfg, dataStore, nil, searchService, mediaStore, authService, emailService)
	}

	if meiliClient != nil {
		go func() {
			if err := searchService.Reindex(ctx); err != nil {
				log.Printf("WARNING: search reindex failed: %v", err)
			}
		}()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	mux := http.NewServeMux()
	if localStore, ok := mediaStore.(*media.LocalStore); ok {
		mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(localStore.Dir()))))
	}
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("TornadoForum API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
