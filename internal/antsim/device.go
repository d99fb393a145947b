package antsim

import (
	"fmt"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// Control operations recorded in the command log.
const (
	OpSetTargetPower     = "set_target_power"
	OpSetBasicResistance = "set_basic_resistance"
)

// Command records a control command received by a simulated trainer
type Command struct {
	At     time.Time
	Device radio.DeviceID
	Op     string
	Value  float64
	Err    error
}

type device struct {
	node *Node
	cfg  radio.ChannelConfig

	mu     sync.RWMutex
	open   bool
	data   *events.Topic[radio.Payload]
	faults *events.Topic[error]
}

var _ radio.Device = (*device)(nil)

func newDevice(node *Node, cfg radio.ChannelConfig) *device {
	name := fmt.Sprintf("SimChannel[%d]", cfg.Number)
	return &device{
		node:   node,
		cfg:    cfg,
		data:   events.NewTopic[radio.Payload](node.logger, name),
		faults: events.NewTopic[error](node.logger, name),
	}
}

func (d *device) ID() radio.DeviceID { return d.cfg.Filter }

func (d *device) Channel() int { return d.cfg.Number }

func (d *device) OnData(fn func(radio.Payload)) { d.data.Subscribe(fn) }

func (d *device) OnFault(fn func(error)) { d.faults.Subscribe(fn) }

func (d *device) Open() error {
	if !d.node.Running() {
		return radio.ErrNotRunning
	}
	d.node.mu.RLock()
	openErr := d.node.openErrors[d.cfg.Filter.Number]
	d.node.mu.RUnlock()
	if openErr != nil {
		return openErr
	}
	if err := d.node.claim(d.cfg.Number, d); err != nil {
		return err
	}

	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	d.node.logger.Printf("SimNode: channel %d opened for %s (period %d)", d.cfg.Number, d.cfg.Filter, d.cfg.Period)
	return nil
}

func (d *device) Close() error {
	d.mu.Lock()
	wasOpen := d.open
	d.open = false
	d.mu.Unlock()
	if !wasOpen {
		return nil
	}
	d.node.release(d.cfg.Number, d)
	d.node.logger.Printf("SimNode: channel %d closed", d.cfg.Number)

	d.node.mu.RLock()
	defer d.node.mu.RUnlock()
	return d.node.closeErr
}

func (d *device) isOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.open
}

func (d *device) deliver(p radio.Payload) {
	if d.isOpen() {
		d.data.Publish(p)
	}
}

func (d *device) fault(err error) {
	if d.isOpen() {
		d.faults.Publish(err)
	}
}

func (d *device) deviceID() radio.DeviceID { return d.cfg.Filter }

// trainer is a fitness equipment channel that accepts control commands.
type trainer struct {
	*device
}

var _ radio.PowerController = (*trainer)(nil)

func (t *trainer) SetTargetPower(watts int) error {
	err := t.control(OpSetTargetPower, float64(watts), func(s *simSensor) error {
		if err := s.popControlError(); err != nil {
			return err
		}
		s.setTarget(watts)
		return nil
	})
	if err == nil {
		t.node.logger.Printf("SimNode: trainer %d target power %dW", t.cfg.Filter.Number, watts)
	}
	return err
}

func (t *trainer) SetBasicResistance(percent float64) error {
	return t.control(OpSetBasicResistance, percent, func(s *simSensor) error {
		return s.resistanceError()
	})
}

func (t *trainer) control(op string, value float64, apply func(*simSensor) error) error {
	var err error
	switch s := t.node.findSensor(t.cfg.Filter.Number); {
	case !t.isOpen():
		err = radio.ErrChannelClosed
	case s == nil:
		err = fmt.Errorf("%w: trainer %d out of range", radio.ErrNoAcknowledgement, t.cfg.Filter.Number)
	default:
		err = apply(s)
	}
	t.node.recordCommand(Command{
		At:     time.Now(),
		Device: t.cfg.Filter,
		Op:     op,
		Value:  value,
		Err:    err,
	})
	return err
}
