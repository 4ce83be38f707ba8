package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"breeditor/api/internal/app"
	"breeditor/api/internal/auth"
	"breeditor/api/internal/config"
	"breeditor/api/internal/search"
	"breeditor/api/internal/session"
	"breeditor/api/internal/snapshot"
	"breeditor/api/internal/store"
	"breeditor/api/internal/upload"
	"breeditor/api/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides API_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ruleFile := store.NewRuleFile(cfg.RulesFile)
	if err := ruleFile.Ensure(); err != nil {
		return fmt.Errorf("prepare rules file: %w", err)
	}

	migrations, err := store.Migrations(cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	proofs, closeProofs, err := store.OpenProofLog(ctx, cfg.DatabaseURL, migrations, cfg.ProofLogFile)
	if err != nil {
		return fmt.Errorf("open proof log: %w", err)
	}
	defer closeProofs()
	if cfg.DatabaseURL != "" {
		log.Printf("Using PostgreSQL for the proof upload log")
	} else {
		log.Printf("Using %s for the proof upload log", cfg.ProofLogFile)
	}

	sessions, closeSessions, err := openSessions(cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	documents, err := openDocuments(ctx, cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	ledger := snapshot.New(cfg.SnapshotDir)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient)
	defer searchService.Close()

	service := app.New(cfg, app.Deps{
		Rules:     ruleFile,
		Ledger:    ledger,
		Proofs:    proofs,
		Documents: documents,
		Sessions:  sessions,
		Index:     searchService,
		Google: auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}),
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (rules will be read on demand): %v", err)
	}

	watcher, err := watch.New(ruleFile, func() { service.Reload(ctx) })
	if err != nil {
		log.Printf("WARNING: rules file watcher disabled: %v", err)
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("BRE API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

func openSessions(cfg config.Config) (session.Store, func(), error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Printf("Using in-memory session storage")
		return session.NewMemoryStore(), func() {}, nil
	}
	log.Printf("Using Redis for session storage")
	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return redisStore, func() { _ = redisStore.Close() }, nil
}

func openDocuments(ctx context.Context, cfg config.Config) (upload.Store, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		return upload.NewDiskStore(cfg.UploadDir), nil
	}
	log.Printf("Using MinIO bucket %s for proof documents", cfg.MinioBucket)
	documents, err := upload.NewMinioStore(ctx, upload.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection failed: %w", err)
	}
	return documents, nil
}
