package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/medrank/internal/perfctl"
	"github.com/okian/medrank/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := logger.Init(logger.WithOutput(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	err := perfctl.Run(ctx, os.Args[1:], os.Stdout, os.Stderr, perfctl.WithLogger(logger.Named("perfctl")))
	switch {
	case err == nil:
	case errors.Is(err, perfctl.ErrUsage):
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	default:
		os.Stderr.WriteString("perfctl: " + err.Error() + "\n")
		os.Exit(1)
	}
}
