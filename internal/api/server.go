// Package api exposes the sensor hub over HTTP/JSON and streams decoded
// readings to WebSocket clients.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/sensor"
)

const (
	// gracefulShutdownTimeout bounds the wait for in-flight requests on Close.
	gracefulShutdownTimeout = 10 * time.Second

	defaultScanTimeout = 5 * time.Second
	maxScanTimeout     = 60 * time.Second
)

// Sensors is the hub surface served by the API.
type Sensors interface {
	Scan(ctx context.Context, timeout time.Duration) ([]sensor.Descriptor, error)
	Connect(key string) (sensor.SessionInfo, error)
	Disconnect(key string) error
	GetReading(identifier string) (sensor.Reading, error)
	GetAllReadings() sensor.AllReadings
	SetTargetPower(identifier string, watts int) (sensor.ControlResult, error)
	Sessions() []sensor.SessionInfo
	SubscribeReadings(ch chan<- sensor.ReadingUpdate) func()
}

type Deps struct {
	Sensors Sensors
	Logger  *log.Logger
	// Addr is the listen address used by Start.
	Addr string
	// ScanTimeout applies when a scan request has no timeout parameter.
	ScanTimeout time.Duration
}

type Server struct {
	sensors     Sensors
	logger      *log.Logger
	addr        string
	scanTimeout time.Duration

	server *http.Server
	hub    *wsHub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sensors == nil {
		return nil, fmt.Errorf("sensors are required")
	}
	scanTimeout := deps.ScanTimeout
	if scanTimeout <= 0 {
		scanTimeout = defaultScanTimeout
	}
	return &Server{
		sensors:     deps.Sensors,
		logger:      deps.Logger,
		addr:        deps.Addr,
		scanTimeout: scanTimeout,
		hub:         newWSHub(deps.Logger),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start relays readings to WebSocket clients and listens on Addr in the
// background until Close.
func (s *Server) Start(ctx context.Context) error {
	if s.addr == "" {
		return fmt.Errorf("listen address is required")
	}
	s.startRelay(ctx)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	go_func_utils.SafeGo(s.logger, func() {
		s.logger.Printf("API: listening on %s", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("API: server error: %v", err)
		}
	})
	return nil
}

// startRelay forwards the hub's reading feed to every WebSocket client.
func (s *Server) startRelay(ctx context.Context) {
	var relayCtx context.Context
	relayCtx, s.cancel = context.WithCancel(ctx)

	updates := make(chan sensor.ReadingUpdate, wsSendBufferSize)
	unsubscribe := s.sensors.SubscribeReadings(updates)
	go_func_utils.SafeGoWG(s.logger, &s.wg, func() {
		defer unsubscribe()
		for {
			select {
			case <-relayCtx.Done():
				s.hub.closeAll()
				return
			case update := <-updates:
				s.hub.broadcast(wsTypeReading, update)
			}
		}
	})
}

// Close stops the relay, disconnects WebSocket clients and shuts the
// listener down, waiting up to gracefulShutdownTimeout for requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Printf("API: shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
