package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lexiread/lexiread-go/internal/mockserver"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	addr := os.Getenv("MOCKSERVER_ADDR")
	if addr == "" {
		addr = ":8089"
	}
	mock := mockserver.New(mockserver.Config{Logger: logger})
	server := &http.Server{Addr: addr, Handler: mock.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", addr).Info("mock backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("mock backend stopped")
	}
}
