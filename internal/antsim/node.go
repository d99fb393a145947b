// Package antsim is an in-process radio node. It stands in for a USB ANT
// stick: sensors announce themselves to open scanners, broadcast pages on a
// ticker, and trainers record the control commands they receive.
package antsim

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/safe_map"
)

// Config holds configuration for creating a simulated node
type Config struct {
	// BroadcastInterval is the period of the broadcast loop. Zero disables
	// automatic broadcasts; payloads are then only delivered through Emit.
	BroadcastInterval time.Duration
	Sensors           []SensorSpec
}

// Node implements radio.Node.
type Node struct {
	logger   *log.Logger
	interval time.Duration

	mu         sync.RWMutex
	sensors    []*simSensor
	running    bool
	keySet     bool
	network    uint8
	networkKey radio.NetworkKey
	scanners   map[*scanner]struct{}
	openErrors map[uint16]error
	closeErr   error

	// channel number -> open handle
	channels *safe_map.SafeMap[int, channelHandle]

	commandsMu sync.RWMutex
	commands   []Command

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type channelHandle interface {
	deliver(radio.Payload)
	fault(error)
	deviceID() radio.DeviceID
}

var _ radio.Node = (*Node)(nil)

// NewNode creates a simulated node with the given sensors in range.
func NewNode(logger *log.Logger, config Config) *Node {
	if logger == nil {
		panic("SimNode: logger cannot be nil")
	}
	n := &Node{
		logger:     logger,
		interval:   config.BroadcastInterval,
		scanners:   make(map[*scanner]struct{}),
		openErrors: make(map[uint16]error),
		channels:   safe_map.NewSafeMap[int, channelHandle](),
	}
	for _, spec := range config.Sensors {
		n.sensors = append(n.sensors, newSimSensor(spec))
	}
	return n
}

func (n *Node) SetNetworkKey(network uint8, key radio.NetworkKey) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.network = network
	n.networkKey = key
	n.keySet = true
	n.logger.Printf("SimNode: network key set on network %d", network)
	return nil
}

// NetworkKey returns the key configured through SetNetworkKey.
func (n *Node) NetworkKey() (uint8, radio.NetworkKey, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.network, n.networkKey, n.keySet
}

// Start launches the broadcast loop.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return nil
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.running = true
	if n.interval > 0 {
		ctx := n.ctx
		go_func_utils.SafeGoWG(n.logger, &n.wg, func() { n.broadcastLoop(ctx) })
	}
	n.logger.Printf("SimNode: started with %d sensor(s) in range", len(n.sensors))
	return nil
}

func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.cancel()
	n.mu.Unlock()

	n.wg.Wait()
	n.logger.Printf("SimNode: stopped")
	return nil
}

// Running reports whether the broadcast loop is active.
func (n *Node) Running() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

func (n *Node) NewScanner(cfg radio.ChannelConfig) (radio.Scanner, error) {
	if err := checkChannel(cfg.Number); err != nil {
		return nil, err
	}
	return &scanner{node: n, channel: cfg.Number}, nil
}

// NewDevice returns a trainer handler for fitness equipment and a plain
// receive handler for every other device type.
func (n *Node) NewDevice(cfg radio.ChannelConfig) (radio.Device, error) {
	if err := checkChannel(cfg.Number); err != nil {
		return nil, err
	}
	dev := newDevice(n, cfg)
	if cfg.Filter.Type == radio.DeviceTypeFitnessEquipment {
		return &trainer{device: dev}, nil
	}
	return dev, nil
}

// AddSensor brings a sensor into range. Open scanners hear it immediately.
func (n *Node) AddSensor(spec SensorSpec) {
	s := newSimSensor(spec)
	n.mu.Lock()
	n.sensors = append(n.sensors, s)
	scanners := n.scannersLocked()
	n.mu.Unlock()
	for _, sc := range scanners {
		sc.announce(s.spec.ID)
	}
}

// RemoveSensor takes a sensor out of range. It stops broadcasting but open
// channels bound to it stay open until they time out or are closed.
func (n *Node) RemoveSensor(id radio.DeviceID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.sensors {
		if s.spec.ID == id {
			n.sensors = append(n.sensors[:i], n.sensors[i+1:]...)
			return
		}
	}
}

// FailOpen makes every Open of a channel bound to device number fail with err.
// A nil err clears the failure.
func (n *Node) FailOpen(number uint16, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.openErrors, number)
		return
	}
	n.openErrors[number] = err
}

// FailClose makes every channel Close return err after the channel is closed.
func (n *Node) FailClose(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeErr = err
}

// QueueControlErrors queues errors returned, in order, by the next
// SetTargetPower commands sent to the trainer with the given device number.
// A nil entry lets that command succeed.
func (n *Node) QueueControlErrors(number uint16, errs ...error) {
	s := n.findSensor(number)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controlErrors = append(s.controlErrors, errs...)
}

// FailResistance makes SetBasicResistance on the given trainer return err.
func (n *Node) FailResistance(number uint16, err error) {
	s := n.findSensor(number)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resistanceErr = err
}

// Emit delivers payload on the given channel as if it was just received.
// Returns false if no device channel is open on that number.
func (n *Node) Emit(channel int, payload radio.Payload) bool {
	h, ok := n.channels.Load(channel)
	if !ok {
		return false
	}
	h.deliver(payload)
	return true
}

// Fault reports err on the given channel.
func (n *Node) Fault(channel int, err error) bool {
	h, ok := n.channels.Load(channel)
	if !ok {
		return false
	}
	h.fault(err)
	return true
}

// OpenChannels returns the channel numbers currently open, scan channels included.
func (n *Node) OpenChannels() []int {
	out := make([]int, 0, radio.MaxChannels)
	for i := 0; i < radio.MaxChannels; i++ {
		if _, ok := n.channels.Load(i); ok {
			out = append(out, i)
		}
	}
	return out
}

// Commands returns a copy of every control command received so far.
func (n *Node) Commands() []Command {
	n.commandsMu.RLock()
	defer n.commandsMu.RUnlock()
	out := make([]Command, len(n.commands))
	copy(out, n.commands)
	return out
}

func (n *Node) recordCommand(cmd Command) {
	n.commandsMu.Lock()
	defer n.commandsMu.Unlock()
	n.commands = append(n.commands, cmd)
	// Keep only last 100 commands
	if len(n.commands) > 100 {
		n.commands = n.commands[len(n.commands)-100:]
	}
}

func (n *Node) findSensor(number uint16) *simSensor {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, s := range n.sensors {
		if s.spec.ID.Number == number {
			return s
		}
	}
	return nil
}

// claim marks channel as open; a channel can only be open once.
func (n *Node) claim(channel int, h channelHandle) error {
	if _, loaded := n.channels.LoadOrStore(channel, h); loaded {
		return fmt.Errorf("SimNode: channel %d already open", channel)
	}
	return nil
}

func (n *Node) release(channel int, h channelHandle) {
	if current, ok := n.channels.Load(channel); ok && current == h {
		n.channels.Delete(channel)
	}
}

func (n *Node) scannersLocked() []*scanner {
	out := make([]*scanner, 0, len(n.scanners))
	for sc := range n.scanners {
		out = append(out, sc)
	}
	return out
}

func (n *Node) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.broadcastOnce()
		}
	}
}

// broadcastOnce sends one page from every in-range sensor to the channel
// bound to it and re-announces every sensor to open scanners.
func (n *Node) broadcastOnce() {
	n.mu.RLock()
	sensors := make([]*simSensor, len(n.sensors))
	copy(sensors, n.sensors)
	scanners := n.scannersLocked()
	n.mu.RUnlock()

	for _, s := range sensors {
		for _, sc := range scanners {
			sc.announce(s.spec.ID)
		}
		payload := s.nextPayload()
		if payload == nil {
			continue
		}
		n.channels.Range(func(_ int, h channelHandle) bool {
			if matches(h.deviceID(), s.spec.ID) {
				h.deliver(payload)
			}
			return true
		})
	}
}

// matches applies a channel id filter where zero fields are wildcards.
func matches(filter, id radio.DeviceID) bool {
	if filter.Number != 0 && filter.Number != id.Number {
		return false
	}
	if filter.Type != radio.DeviceTypeAny && filter.Type != id.Type {
		return false
	}
	if filter.TransmissionType != 0 && filter.TransmissionType != id.TransmissionType {
		return false
	}
	return true
}

func checkChannel(number int) error {
	if number < 0 || number >= radio.MaxChannels {
		return fmt.Errorf("SimNode: channel %d out of range [0, %d)", number, radio.MaxChannels)
	}
	return nil
}
