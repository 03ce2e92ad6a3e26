package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wireframe/internal/app"
	"wireframe/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Printf("Failed to initialize app: %v", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	if a.Serving() {
		go func() {
			if err := a.Start(); err != nil {
				log.Printf("Server error: %v", err)
			}
		}()
	}

	result, err := a.Run(ctx)
	if err != nil {
		log.Printf("Run failed to start: %v", err)
		return 1
	}
	code := result.Status.ExitCode()
	fmt.Fprintln(os.Stderr, app.Summary(result))
	log.Printf("Run %s finished status=%s exit=%d", result.RunID, result.Status, code)

	if a.Serving() {
		log.Println("Serving run status until interrupted")
		<-ctx.Done()
		log.Println("Shutting down server...")
	}
	return code
}
