package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alfianX/crossgate-gw/config"
	"github.com/alfianX/crossgate-gw/internal/app"
	"github.com/alfianX/crossgate-gw/pkg/logger"
)

var (
	version     = "1.0.0" // Application version
	showVersion = flag.Bool("version", false, "Display the application version")
)

func main() {
	flag.Parse()

	// If "--version" flag is provided, display version and exit
	if *showVersion {
		fmt.Printf("App Version: %s\n", version)
		return
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer cancel()
		if err := run(rootCtx); err != nil {
			log.Fatalf("application exited with error: %v", err)
		}
		log.Println("Application stopped gracefully.")
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v, initiating shutdown...", sig)
	case <-rootCtx.Done():
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All goroutines have finished. Exiting.")
	case <-time.After(app.ShutdownTimeout + 5*time.Second):
		log.Println("Graceful shutdown timed out, forcing exit.")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cnf, err := config.NewParsedConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %+v", err)
	}

	logCfg := logger.LoggerConfig{
		EnableAllDebugFiles: cnf.Debug != 0,
		LogDir:              cnf.LogDir,
		Level:               cnf.LogLevel,
	}

	appLogger, allFileHooks, err := logger.InitLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %+v", err)
	}
	defer logger.CloseAllFileHooks(appLogger, allFileHooks)

	appLogger.Infof("CrossGate gateway %s starting (mode %s)", version, cnf.Mode)
	return app.Run(ctx, cnf, appLogger)
}
