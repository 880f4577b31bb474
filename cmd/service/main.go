package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kardianos/service"

	"github.com/alfianX/crossgate-gw/config"
	"github.com/alfianX/crossgate-gw/internal/app"
	"github.com/alfianX/crossgate-gw/pkg/logger"
)

var (
	version     = "1.0.0" // Application version
	showVersion = flag.Bool("version", false, "Display the application version")
)

// program implements service.Interface around app.Run.
type program struct {
	logger    service.Logger
	appCtx    context.Context
	appCancel context.CancelFunc
	done      chan struct{}
}

func (p *program) Start(s service.Service) error {
	p.logger.Info("Service starting...")
	if p.appCtx == nil {
		p.appCtx, p.appCancel = context.WithCancel(context.Background())
	}
	p.done = make(chan struct{})

	go p.run()
	return nil
}

func (p *program) run() {
	defer close(p.done)
	if err := p.runGateway(); err != nil {
		p.logger.Errorf("%v", err)
		// exit non-zero so the service manager can restart the gateway
		os.Exit(1)
	}
	p.logger.Info("Gateway stopped.")
}

func (p *program) runGateway() error {
	cnf, err := config.NewParsedConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	logCfg := logger.LoggerConfig{
		EnableAllDebugFiles: cnf.Debug != 0,
		LogDir:              cnf.LogDir,
		Level:               cnf.LogLevel,
	}

	appLogger, allFileHooks, err := logger.InitLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer logger.CloseAllFileHooks(appLogger, allFileHooks)

	appLogger.Infof("CrossGate gateway %s starting as service (mode %s)", version, cnf.Mode)
	if err := app.Run(p.appCtx, cnf, appLogger); err != nil {
		return fmt.Errorf("gateway exited with error: %v", err)
	}
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.logger.Info("Service received stop signal. Stopping application...")
	p.appCancel()
	<-p.done
	p.logger.Info("Service stopped.")
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not loaded: %v", err)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("App Version: %s\n", version)
		return
	}

	svcConfig := &service.Config{
		Name:        "CrossGateGateway",
		DisplayName: "CrossGate Terminal Gateway",
		Description: "TCP gateway for fare collection terminals.",
	}

	prg := &program{}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	errs := make(chan error, 5)
	prg.logger, err = s.Logger(errs)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		for err := range errs {
			if err != nil {
				log.Print(err)
			}
		}
	}()

	if len(flag.Args()) == 0 {
		if err := s.Run(); err != nil {
			log.Fatalf("Failed to run service: %v", err)
		}
		return
	}

	switch verb := flag.Arg(0); verb {
	case "install", "uninstall", "start", "stop", "restart":
		if err := service.Control(s, verb); err != nil {
			log.Fatalf("Failed to %s service: %v", verb, err)
		}
		fmt.Printf("Service %s done.\n", verb)
	case "status":
		status, err := s.Status()
		if err != nil {
			log.Fatalf("Failed to get service status: %v", err)
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service is running.")
		case service.StatusStopped:
			fmt.Println("Service is stopped.")
		default:
			fmt.Println("Service status is unknown.")
		}
	case "run":
		fmt.Println("Running service in interactive mode. Press Ctrl+C to stop.")

		ctx, cancel := context.WithCancel(context.Background())
		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-signalCh
			fmt.Println("\nReceived interrupt signal. Shutting down...")
			cancel()
		}()
		prg.appCtx = ctx
		prg.appCancel = cancel

		if err := s.Run(); err != nil {
			log.Fatalf("Failed to run service: %v", err)
		}
		fmt.Println("Service stopped.")
	default:
		fmt.Printf("Unknown command: %s\n", verb)
		fmt.Printf("Usage: %s [install|uninstall|start|stop|restart|status|run|--version]\n", os.Args[0])
	}
}
