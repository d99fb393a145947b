package ble

import (
	"fmt"
	"sync"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/safe_map"

	"tinygo.org/x/bluetooth"
)

// gattDevice is one GATT connection standing in for a channel.
type gattDevice struct {
	node    *Node
	channel int
	address bluetooth.Address
	id      radio.DeviceID
	profile profile
	decode  decoder

	data   *events.Topic[radio.Payload]
	faults *events.Topic[error]

	mu                     sync.Mutex
	bleMu                  sync.Mutex // Serializes BLE characteristic operations (notifications, writes)
	connectedDevice        *bluetooth.Device
	serviceByUuid          *safe_map.SafeMap[string, *bluetooth.DeviceService]
	characteristicByUuid   *safe_map.SafeMap[string, *bluetooth.DeviceCharacteristic]
	serviceCharsDiscovered *safe_map.SafeMap[string, bool]
	allServicesDiscovered  bool
}

var _ radio.Device = (*gattDevice)(nil)

func newGattDevice(node *Node, channel int, p *peripheral) *gattDevice {
	name := fmt.Sprintf("BLEDevice[%s]", p.address.String())
	return &gattDevice{
		node:                   node,
		channel:                channel,
		address:                p.address,
		id:                     p.id,
		profile:                p.profile,
		decode:                 newDecoder(p.profile.deviceType),
		data:                   events.NewTopic[radio.Payload](node.logger, name),
		faults:                 events.NewTopic[error](node.logger, name),
		serviceByUuid:          safe_map.NewSafeMap[string, *bluetooth.DeviceService](),
		characteristicByUuid:   safe_map.NewSafeMap[string, *bluetooth.DeviceCharacteristic](),
		serviceCharsDiscovered: safe_map.NewSafeMap[string, bool](),
	}
}

func (d *gattDevice) ID() radio.DeviceID { return d.id }

func (d *gattDevice) Channel() int { return d.channel }

func (d *gattDevice) OnData(fn func(radio.Payload)) { d.data.Subscribe(fn) }

func (d *gattDevice) OnFault(fn func(error)) { d.faults.Subscribe(fn) }

// Open connects and subscribes to the profile's measurement characteristic.
func (d *gattDevice) Open() error {
	if !d.node.isRunning() {
		return radio.ErrNotRunning
	}
	addressStr := d.address.String()
	d.node.logger.Printf("BLENode: connecting to %s for channel %d", addressStr, d.channel)

	device, err := d.node.adapter.Connect(d.address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", addressStr, err)
	}
	d.mu.Lock()
	d.connectedDevice = &device
	d.mu.Unlock()
	d.node.connected.Store(addressStr, d)

	if err := d.enableNotifications(d.profile.serviceUUID, d.profile.measurement, d.handleNotification); err != nil {
		d.disconnect()
		return err
	}
	d.node.logger.Printf("BLENode: %s open on channel %d", d.id, d.channel)
	return nil
}

// Close unsubscribes and disconnects.
func (d *gattDevice) Close() error {
	if d.device() == nil {
		return nil
	}
	if err := d.disableNotifications(d.profile.serviceUUID, d.profile.measurement); err != nil {
		d.node.logger.Printf("BLENode: %v", err)
	}
	return d.disconnect()
}

func (d *gattDevice) disconnect() error {
	d.mu.Lock()
	device := d.connectedDevice
	d.connectedDevice = nil
	d.mu.Unlock()
	d.node.connected.Delete(d.address.String())
	if device == nil {
		return nil
	}
	return device.Disconnect()
}

func (d *gattDevice) device() *bluetooth.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectedDevice
}

func (d *gattDevice) handleNotification(buf []byte) {
	payload, err := d.decode(buf)
	if err != nil {
		// A malformed notification is dropped; the next one may be fine
		d.node.logger.Printf("BLENode: %s: %v", d.id, err)
		return
	}
	if payload != nil {
		d.data.Publish(payload)
	}
}

func (d *gattDevice) fault(err error) {
	d.faults.Publish(err)
}

func (d *gattDevice) enableNotifications(serviceUuidStr, characteristicUuidStr string, callback func([]byte)) error {
	d.bleMu.Lock()
	defer d.bleMu.Unlock()

	characteristic, err := d.getDeviceCharacteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return err
	}
	if err := characteristic.EnableNotifications(callback); err != nil {
		return fmt.Errorf("failed to enable notifications on %s: %w", characteristicUuidStr, err)
	}
	return nil
}

func (d *gattDevice) disableNotifications(serviceUuidStr, characteristicUuidStr string) error {
	d.bleMu.Lock()
	defer d.bleMu.Unlock()

	characteristic, err := d.getDeviceCharacteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return err
	}
	// Pass nil callback to disable notifications
	if err := characteristic.EnableNotifications(nil); err != nil {
		return fmt.Errorf("failed to disable notifications on %s: %w", characteristicUuidStr, err)
	}
	return nil
}

func (d *gattDevice) getDeviceService(serviceUuidStr string) (*bluetooth.DeviceService, error) {
	if service, ok := d.serviceByUuid.Load(serviceUuidStr); ok {
		return service, nil
	}

	device := d.device()
	if device == nil {
		return nil, fmt.Errorf("%w: no connected device", radio.ErrNoAcknowledgement)
	}

	// Discover ALL services at once; discovering single services repeatedly
	// interrupts services already in use
	if !d.allServicesDiscovered {
		services, err := device.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("error discovering services: %w", err)
		}
		for i := range services {
			svc := &services[i]
			d.serviceByUuid.Store(svc.UUID().String(), svc)
		}
		d.allServicesDiscovered = true
	}

	service, ok := d.serviceByUuid.Load(serviceUuidStr)
	if !ok {
		return nil, fmt.Errorf("service %v not found on device", serviceUuidStr)
	}
	return service, nil
}

func (d *gattDevice) getDeviceCharacteristic(serviceUuidStr, charUuidStr string) (*bluetooth.DeviceCharacteristic, error) {
	key := characteristicKey(serviceUuidStr, charUuidStr)
	if characteristic, ok := d.characteristicByUuid.Load(key); ok {
		return characteristic, nil
	}

	if discovered, _ := d.serviceCharsDiscovered.Load(serviceUuidStr); !discovered {
		service, err := d.getDeviceService(serviceUuidStr)
		if err != nil {
			return nil, err
		}
		characteristics, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("could not discover characteristics for service %v: %w", serviceUuidStr, err)
		}
		for i := range characteristics {
			char := &characteristics[i]
			d.characteristicByUuid.Store(characteristicKey(serviceUuidStr, char.UUID().String()), char)
		}
		d.serviceCharsDiscovered.Store(serviceUuidStr, true)
	}

	characteristic, ok := d.characteristicByUuid.Load(key)
	if !ok {
		return nil, fmt.Errorf("characteristic %v not found in service %v", charUuidStr, serviceUuidStr)
	}
	return characteristic, nil
}

// trainer is an FTMS trainer; control goes through the FTMS control point.
type trainer struct {
	*gattDevice

	controlMu sync.Mutex
	control   *ftmsControl
}

var _ radio.PowerController = (*trainer)(nil)

// Open subscribes to indoor bike data, then to control point indications
// and requests control.
func (t *trainer) Open() error {
	if err := t.gattDevice.Open(); err != nil {
		return err
	}
	cp, err := t.controlPoint()
	if err != nil {
		t.node.logger.Printf("BLENode: %s has no usable control point: %v", t.id, err)
		return nil
	}
	if err := cp.requestControl(); err != nil {
		// Retried on the first command
		t.node.logger.Printf("BLENode: %s: request control failed: %v", t.id, err)
	}
	return nil
}

func (t *trainer) Close() error {
	t.controlMu.Lock()
	hadControl := t.control != nil
	t.control = nil
	t.controlMu.Unlock()
	if hadControl && t.device() != nil {
		if err := t.disableNotifications(ServiceUUIDFTMS, CharUUIDFTMSControlPoint); err != nil {
			t.node.logger.Printf("BLENode: %v", err)
		}
	}
	return t.gattDevice.Close()
}

func (t *trainer) SetTargetPower(watts int) error {
	cp, err := t.controlPoint()
	if err != nil {
		return err
	}
	return cp.setTargetPower(watts)
}

func (t *trainer) SetBasicResistance(percent float64) error {
	cp, err := t.controlPoint()
	if err != nil {
		return err
	}
	return cp.setTargetResistance(percent)
}

// controlPoint returns the control client, subscribing to the control point
// on first use.
func (t *trainer) controlPoint() (*ftmsControl, error) {
	t.controlMu.Lock()
	defer t.controlMu.Unlock()
	if t.device() == nil {
		return nil, fmt.Errorf("%w: %s not connected", radio.ErrNoAcknowledgement, t.id)
	}
	if t.control != nil {
		return t.control, nil
	}

	t.bleMu.Lock()
	char, err := t.getDeviceCharacteristic(ServiceUUIDFTMS, CharUUIDFTMSControlPoint)
	t.bleMu.Unlock()
	if err != nil {
		return nil, err
	}

	control := newFTMSControl(t.node.logger, &lockedWriter{mu: &t.bleMu, char: char}, t.node.controlTimeout)
	if err := t.enableNotifications(ServiceUUIDFTMS, CharUUIDFTMSControlPoint, control.handleIndication); err != nil {
		return nil, err
	}
	t.control = control
	return control, nil
}

// lockedWriter serializes control point writes with other BLE operations.
type lockedWriter struct {
	mu   *sync.Mutex
	char *bluetooth.DeviceCharacteristic
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.char.Write(p)
}
