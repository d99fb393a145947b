package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antsim"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/api"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/ble"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/config"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/logging"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/publish"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/sensor"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/tui"
)

const uiLogBufferSize = 256

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ant-bridge: %v\n", err)
		return 2
	}

	// The monitor owns the terminal, so logs go to its pane instead of stderr
	var uiLog chan string
	logOpts := logging.Options{
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		Stderr:     cfg.Log.Stderr && !cfg.TUI,
	}
	if cfg.TUI {
		uiLog = make(chan string, uiLogBufferSize)
		logOpts.Extra = logging.NewLineWriter(uiLog)
	}
	logger := logging.New(logOpts)
	defer logger.Close()

	if err := serve(cfg, logger.Logger, uiLog); err != nil {
		logger.Printf("Bridge: %v", err)
		if !logOpts.Stderr {
			fmt.Fprintf(os.Stderr, "ant-bridge: %v\n", err)
		}
		return 1
	}
	return 0
}

func serve(cfg *config.Config, logger *log.Logger, uiLog <-chan string) error {
	node := newNode(cfg, logger)
	key, err := cfg.ANTNetworkKey()
	if err != nil {
		return err
	}

	hub := sensor.New(node, logger, sensor.Options{
		NetworkKey:      key,
		ControlAttempts: cfg.Control.Attempts,
		ControlBackoff:  cfg.Control.Backoff,
	})
	if err := hub.Start(); err != nil {
		return fmt.Errorf("start %s node: %w", cfg.Driver, err)
	}
	defer func() {
		if err := hub.Close(); err != nil {
			logger.Printf("Bridge: closing hub: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HTTP.Addr != "" {
		server, err := api.New(api.Deps{
			Sensors:     hub,
			Logger:      logger,
			Addr:        cfg.HTTP.Addr,
			ScanTimeout: cfg.Scan.Timeout,
		})
		if err != nil {
			return err
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("start API server: %w", err)
		}
		defer func() {
			if err := server.Close(); err != nil {
				logger.Printf("Bridge: %v", err)
			}
		}()
	}

	if cfg.MQTT.Enabled {
		publisher, err := publish.Dial(publish.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, logger)
		if err != nil {
			// Readings stay available over HTTP without the broker
			logger.Printf("Bridge: MQTT disabled: %v", err)
		} else {
			publisher.Start(hub)
			defer publisher.Close()
		}
	}

	logger.Printf("Bridge: running with %s driver", cfg.Driver)
	if cfg.TUI {
		monitor := tui.New(tview.NewApplication(), hub, logger, uiLog, cfg.Scan.Timeout)
		go func() {
			<-ctx.Done()
			monitor.Stop()
		}()
		if err := monitor.Run(); err != nil {
			return fmt.Errorf("terminal monitor: %w", err)
		}
	} else {
		<-ctx.Done()
	}
	logger.Printf("Bridge: shutting down")
	return nil
}

func newNode(cfg *config.Config, logger *log.Logger) radio.Node {
	if cfg.Driver == config.DriverBLE {
		return ble.NewNode(bluetooth.DefaultAdapter, logger, cfg.Control.Timeout)
	}
	return antsim.NewNode(logger, antsim.Config{
		BroadcastInterval: cfg.Sim.BroadcastInterval,
		Sensors:           antsim.DefaultSensors(),
	})
}
