package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agora-chat/agora/internal/config"
	"github.com/agora-chat/agora/internal/devserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store := devserver.NewStore()
	if cfg.Server.SeedDemo {
		devserver.SeedDemo(store)
	}
	panel := devserver.NewMemoryPanelists(devserver.SeedPanelists())

	var generator *devserver.Generator
	if cfg.AI.Enabled() {
		generator, err = devserver.NewGenerator(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize ark generator: %v", err)
			log.Println("continuing with scripted streams only")
			generator = nil
		} else {
			log.Println("ark generator initialized, chat rooms stream real replies")
		}
	} else {
		log.Println("ark credentials not configured, streaming scripted replies")
	}

	handler := devserver.NewHandler(
		store,
		panel,
		generator,
		time.Duration(cfg.Server.StreamDelay)*time.Millisecond,
		time.Duration(cfg.Server.ReportDelay)*time.Second,
	)
	router := devserver.NewRouter(handler)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("agora devserver listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
