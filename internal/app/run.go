package app

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type Runner func(ctx context.Context) error

// Run executes the service body under signal supervision and returns the
// process exit code. SIGINT/SIGTERM cancel the context; the body is given a
// short grace period to unwind before the process exits.
func Run(serviceName string, run Runner) int {
	log.Printf("%s starting", serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	select {
	case <-ctx.Done():
		log.Printf("%s shutting down", serviceName)
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s failed during shutdown: %v", serviceName, err)
				return 1
			}
		case <-time.After(10 * time.Second):
			log.Printf("%s shutdown grace period expired", serviceName)
		}
		return 0
	case err := <-errCh:
		if err != nil {
			log.Printf("%s failed: %v", serviceName, err)
			return 1
		}
		log.Printf("%s stopped", serviceName)
		return 0
	}
}
