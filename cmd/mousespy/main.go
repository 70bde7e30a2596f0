package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roadrunner-server/endure/v2"
	"go.uber.org/zap"

	mouse_telemetry "github.com/your-org/roadrunner-mouse-telemetry"
)

const envPrefix = "MOUSESPY"

func main() {
	configPath := flag.String("c", envOr(envPrefix+"_CONFIG", "mousespy.yaml"), "path to the config file")
	flag.Parse()

	bootstrap, _ := zap.NewProduction()
	defer func() { _ = bootstrap.Sync() }()

	cont := endure.New(slog.LevelError, endure.GracefulShutdownTimeout(30*time.Second))

	err := cont.RegisterAll(
		newConfigPlugin(*configPath, envPrefix),
		&loggerPlugin{},
		&mouse_telemetry.Plugin{},
	)
	if err != nil {
		bootstrap.Fatal("Failed to register plugins", zap.Error(err))
	}

	if err := cont.Init(); err != nil {
		bootstrap.Fatal("Failed to initialize plugins", zap.Error(err))
	}

	errCh, err := cont.Serve()
	if err != nil {
		bootstrap.Fatal("Failed to start plugins", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case e := <-errCh:
		bootstrap.Error("Plugin failed", zap.String("plugin", e.VertexID), zap.Error(e.Error))
		if err := cont.Stop(); err != nil {
			bootstrap.Error("Failed to stop plugins", zap.Error(err))
		}
		os.Exit(1)
	case <-stop:
		bootstrap.Info("Shutting down")
		if err := cont.Stop(); err != nil {
			bootstrap.Error("Failed to stop plugins", zap.Error(err))
			os.Exit(1)
		}
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
