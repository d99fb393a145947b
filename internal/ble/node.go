package ble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/safe_map"

	"tinygo.org/x/bluetooth"
)

// peripheral is a sensor seen while scanning.
type peripheral struct {
	address  bluetooth.Address
	id       radio.DeviceID
	profile  profile
	name     string
	rssi     int16
	lastSeen time.Time
}

// Node implements radio.Node on a Bluetooth adapter. Channels are virtual:
// the channel number is bookkeeping for the hub, each device is its own
// GATT connection.
type Node struct {
	adapter        *bluetooth.Adapter
	logger         *log.Logger
	controlTimeout time.Duration

	// device number -> last scan sighting
	peripherals *safe_map.SafeMap[uint16, *peripheral]
	// address -> open device, for the connect handler
	connected *safe_map.SafeMap[string, *gattDevice]

	mu         sync.Mutex
	running    bool
	scanners   map[*scanner]struct{}
	scanCancel context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

var _ radio.Node = (*Node)(nil)

func NewNode(adapter *bluetooth.Adapter, logger *log.Logger, controlTimeout time.Duration) *Node {
	if logger == nil {
		panic("BLENode: logger cannot be nil")
	}
	if adapter == nil {
		panic("BLENode: adapter cannot be nil")
	}
	return &Node{
		adapter:        adapter,
		logger:         logger,
		controlTimeout: controlTimeout,
		peripherals:    safe_map.NewSafeMap[uint16, *peripheral](),
		connected:      safe_map.NewSafeMap[string, *gattDevice](),
		scanners:       make(map[*scanner]struct{}),
	}
}

// SetNetworkKey is accepted for interface compatibility; BLE has no network key.
func (n *Node) SetNetworkKey(network uint8, key radio.NetworkKey) error {
	n.logger.Printf("BLENode: ignoring network key for network %d", network)
	return nil
}

// Start enables the adapter and tracks disconnects.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return nil
	}

	n.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addressStr := device.Address.String()
		if connected {
			n.logger.Printf("BLENode: device connected: %s", addressStr)
			return
		}
		n.logger.Printf("BLENode: device disconnected: %s", addressStr)
		if d, ok := n.connected.Load(addressStr); ok {
			d.fault(fmt.Errorf("%w: %s disconnected", radio.ErrChannelClosed, addressStr))
		}
	})
	if err := n.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.running = true
	n.logger.Printf("BLENode: adapter enabled")
	return nil
}

// Stop closes every open device and stops any scan.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.cancel()
	scanners := make([]*scanner, 0, len(n.scanners))
	for sc := range n.scanners {
		scanners = append(scanners, sc)
	}
	n.mu.Unlock()

	for _, sc := range scanners {
		if err := sc.Close(); err != nil {
			n.logger.Printf("BLENode: error stopping scan: %v", err)
		}
	}
	var devices []*gattDevice
	n.connected.Range(func(_ string, d *gattDevice) bool {
		devices = append(devices, d)
		return true
	})
	for _, d := range devices {
		if err := d.Close(); err != nil {
			n.logger.Printf("BLENode: error disconnecting %s: %v", d.address.String(), err)
		}
	}

	n.wg.Wait()
	n.logger.Printf("BLENode: stopped")
	return nil
}

func (n *Node) isRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

func (n *Node) NewScanner(cfg radio.ChannelConfig) (radio.Scanner, error) {
	return &scanner{node: n, channel: cfg.Number}, nil
}

// NewDevice binds a channel to a peripheral from an earlier scan.
func (n *Node) NewDevice(cfg radio.ChannelConfig) (radio.Device, error) {
	p, ok := n.peripherals.Load(cfg.Filter.Number)
	if !ok || p.id.Type != cfg.Filter.Type {
		return nil, fmt.Errorf("BLENode: %s has not been seen by a scan", cfg.Filter)
	}
	dev := newGattDevice(n, cfg.Number, p)
	if p.profile.deviceType == radio.DeviceTypeFitnessEquipment {
		return &trainer{gattDevice: dev}, nil
	}
	return dev, nil
}

// addScanner starts the adapter scan when the first scanner opens.
func (n *Node) addScanner(sc *scanner) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return radio.ErrNotRunning
	}
	n.scanners[sc] = struct{}{}
	if n.scanCancel != nil {
		return nil
	}

	scanCtx, scanCancel := context.WithCancel(n.ctx)
	n.scanCancel = scanCancel
	go_func_utils.SafeGoWG(n.logger, &n.wg, func() {
		defer n.logger.Printf("BLENode: exiting scan loop")
		err := n.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-scanCtx.Done():
				// still need StopScan on the adapter
				return
			default:
			}
			n.handleScanResult(result)
		})
		if err != nil && !errors.Is(scanCtx.Err(), context.Canceled) {
			n.logger.Printf("BLENode: scan error: %v", err)
		}
	})
	return nil
}

// removeScanner stops the adapter scan when the last scanner closes.
func (n *Node) removeScanner(sc *scanner) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.scanners, sc)
	if len(n.scanners) > 0 || n.scanCancel == nil {
		return nil
	}
	n.scanCancel()
	n.scanCancel = nil
	return n.adapter.StopScan()
}

func (n *Node) handleScanResult(result bluetooth.ScanResult) {
	uuids := make([]string, 0, len(result.ServiceUUIDs()))
	for _, uuid := range result.ServiceUUIDs() {
		uuids = append(uuids, uuid.String())
	}
	prof, ok := profileForServices(uuids)
	if !ok {
		return
	}

	addressStr := result.Address.String()
	id := deviceID(addressStr, prof)
	name := result.LocalName()
	if name == "" {
		name = "Unknown"
	}
	p := &peripheral{
		address:  result.Address,
		id:       id,
		profile:  prof,
		name:     name,
		rssi:     result.RSSI,
		lastSeen: time.Now(),
	}
	if _, seen := n.peripherals.Load(id.Number); !seen {
		n.logger.Printf("BLENode: found %s (%s) as %s [RSSI: %d]", name, addressStr, id, result.RSSI)
	}
	n.peripherals.Store(id.Number, p)

	n.mu.Lock()
	scanners := make([]*scanner, 0, len(n.scanners))
	for sc := range n.scanners {
		scanners = append(scanners, sc)
	}
	n.mu.Unlock()
	for _, sc := range scanners {
		sc.announce(id)
	}
}

type scanner struct {
	node    *Node
	channel int

	mu      sync.RWMutex
	open    bool
	onFound func(radio.DeviceID)
}

var _ radio.Scanner = (*scanner)(nil)

func (s *scanner) OnFound(fn func(radio.DeviceID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFound = fn
}

func (s *scanner) Open() error {
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	if err := s.node.addScanner(s); err != nil {
		s.mu.Lock()
		s.open = false
		s.mu.Unlock()
		return err
	}
	s.node.logger.Printf("BLENode: scan started (channel %d)", s.channel)
	return nil
}

func (s *scanner) Close() error {
	s.mu.Lock()
	wasOpen := s.open
	s.open = false
	s.mu.Unlock()
	if !wasOpen {
		return nil
	}
	return s.node.removeScanner(s)
}

func (s *scanner) announce(id radio.DeviceID) {
	s.mu.RLock()
	open, fn := s.open, s.onFound
	s.mu.RUnlock()
	if open && fn != nil {
		fn(id)
	}
}
