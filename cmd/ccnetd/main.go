package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ccnetdrv/ccnetd/internal/ccnet"
	"github.com/ccnetdrv/ccnetd/internal/config"
	"github.com/ccnetdrv/ccnetd/internal/logger"
	"github.com/ccnetdrv/ccnetd/internal/opctl"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// daemon owns the serial link, the controller, and the admin HTTP
// server, and coordinates their startup and graceful shutdown.
type daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	port       ccnet.SerialPort
	controller *ccnet.Controller
	hub        *opctl.Hub
	httpServer *http.Server

	wg sync.WaitGroup
}

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ccnetd %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	if err := config.Init(*configPath); err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}

	d := &daemon{cfg: cfg, logger: logger.GetLogger()}
	if err := d.start(); err != nil {
		logger.Fatal("failed to start daemon", zap.Error(err))
	}

	d.waitForShutdown()

	if err := d.shutdown(); err != nil {
		logger.Error("shutdown did not complete cleanly", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("ccnetd stopped")
}

func (d *daemon) start() error {
	d.logger.Info("starting ccnetd", zap.String("version", Version))

	if err := d.dialDevice(); err != nil {
		return err
	}

	adminAuth, err := opctl.NewAuthManager(
		d.cfg.Security.JWT.Secret,
		adminUsername(),
		adminPassword(),
		time.Duration(d.cfg.Security.JWT.ExpireHours)*time.Hour,
	)
	if err != nil {
		return err
	}

	d.hub = opctl.NewHub(logger.GetModuleLogger("opctl"))
	httpOperator := opctl.NewHTTPOperator(d.hub, logger.GetModuleLogger("opctl"))

	d.controller = ccnet.NewController(d.port, byte(d.cfg.Serial.DeviceAddress), httpOperator, logger.GetModuleLogger("ccnet"))
	d.controller.Start()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.hub.Run()
	}()

	server := opctl.NewServer(
		d.cfg.Server.Mode,
		d.controller,
		d.hub,
		httpOperator,
		adminAuth,
		d.cfg.Security.RateLimit.RequestsPerMinute,
		d.cfg.Security.RateLimit.Burst,
		logger.GetModuleLogger("opctl"),
	)
	d.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", d.cfg.Server.Host, d.cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  d.cfg.Server.ReadTimeout,
		WriteTimeout: d.cfg.Server.WriteTimeout,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.logger.Info("admin API listening", zap.String("addr", d.httpServer.Addr))
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("admin API server failed", zap.Error(err))
		}
	}()

	config.Watch(func(newCfg *config.Config) {
		d.logger.Info("config reloaded")
		d.cfg = newCfg
	})

	return nil
}

func (d *daemon) dialDevice() error {
	if d.cfg.Serial.MockMode {
		d.logger.Warn("serial.mock_mode is enabled but ccnetd has no built-in mock port; run cmd/ccnetsim against a loopback pair instead")
	}

	port, err := ccnet.Dial(ccnet.DialConfig{
		Port:          d.cfg.Serial.Port,
		BaudRate:      d.cfg.Serial.BaudRate,
		ReadTimeoutMs: int(d.cfg.Serial.ReadTimeout / time.Millisecond),
	})
	if err != nil {
		return err
	}
	d.port = port
	return nil
}

func (d *daemon) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	d.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
}

func (d *daemon) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()

	if d.httpServer != nil {
		if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("admin API did not shut down cleanly", zap.Error(err))
		}
	}

	if d.controller != nil {
		if err := d.controller.Stop(shutdownCtx); err != nil {
			d.logger.Error("controller did not stop cleanly", zap.Error(err))
		}
	}

	if d.port != nil {
		if err := d.port.Close(); err != nil {
			d.logger.Error("failed to close serial port", zap.Error(err))
		}
	}

	return logger.Sync()
}

// adminUsername and adminPassword read the single operator account
// from the environment rather than config.yaml, so the credential
// never ends up committed alongside the rest of the configuration.
func adminUsername() string {
	if u := os.Getenv("CCNETD_ADMIN_USERNAME"); u != "" {
		return u
	}
	return "admin"
}

func adminPassword() string {
	if p := os.Getenv("CCNETD_ADMIN_PASSWORD"); p != "" {
		return p
	}
	return "admin"
}
