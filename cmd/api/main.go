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

	"github.com/wischat/backend/internal/config"
	"github.com/wischat/backend/internal/handler"
	"github.com/wischat/backend/internal/service/chat"
	"github.com/wischat/backend/internal/service/relay"
	"github.com/wischat/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st, err := store.Open(cfg.DatabasePath, cfg.DedupRetention)
	if err != nil {
		log.Fatalf("failed to open store at %s: %v", cfg.DatabasePath, err)
	}

	rl := relay.New(st, cfg.Heartbeat)
	chatService := chat.NewService(st, rl, chat.Options{
		MaxBodyLength: cfg.MaxBodyLength,
		IdleTimeout:   cfg.IdleTimeout,
	})

	go chatService.RunSweeper(ctx, cfg.SweepInterval)

	router := handler.NewRouter(cfg, chatService)

	startServer(ctx, cfg.Addr(), router)
}

func startServer(ctx context.Context, addr string, router http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("WisChat relay backend listening on %s", addr)
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
