package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-labs/voiceorb/pkg/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to conf.yaml (defaults to search near the working directory)")
	flag.Parse()

	server, err := runtime.New(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
	case err := <-errCh:
		if err != nil {
			fallback, _ := zap.NewProduction()
			defer fallback.Sync()
			fallback.Fatal("http server error", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
