package crawler

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// NewLogger returns the text logger shared by every command.
// Unknown level names fall back to info.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger
}

// RunWithGracefulShutdown runs fn with a context that is cancelled on SIGINT or SIGTERM.
func RunWithGracefulShutdown(logger logrus.FieldLogger, fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := fn(ctx)
	if ctx.Err() != nil {
		logger.Info("Received shutdown signal, stopped gracefully")
	}
	return err
}
