package ble

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// FTMS Control Point Op Codes
const (
	FTMSOpCodeRequestControl      byte = 0x00
	FTMSOpCodeSetTargetResistance byte = 0x04
	FTMSOpCodeSetTargetPower      byte = 0x05
	FTMSOpCodeResponseCode        byte = 0x80
)

// FTMS Control Point Result Codes
const (
	FTMSResultSuccess             byte = 0x01
	FTMSResultOpCodeNotSupported  byte = 0x02
	FTMSResultInvalidParameter    byte = 0x03
	FTMSResultOperationFailed     byte = 0x04
	FTMSResultControlNotPermitted byte = 0x05
)

const defaultControlTimeout = 2 * time.Second

var errControlNotPermitted = errors.New("ftms: control not permitted")

// characteristicWriter is the control point characteristic.
type characteristicWriter interface {
	Write(p []byte) (int, error)
}

// ftmsControl sends control point commands one at a time and waits for the
// trainer's response indication.
type ftmsControl struct {
	logger    *log.Logger
	cp        characteristicWriter
	timeout   time.Duration
	responses chan []byte

	mu      sync.Mutex
	granted bool
}

func newFTMSControl(logger *log.Logger, cp characteristicWriter, timeout time.Duration) *ftmsControl {
	if timeout <= 0 {
		timeout = defaultControlTimeout
	}
	return &ftmsControl{
		logger:    logger,
		cp:        cp,
		timeout:   timeout,
		responses: make(chan []byte, 4),
	}
}

// handleIndication receives control point indications.
func (c *ftmsControl) handleIndication(buf []byte) {
	if len(buf) < 3 || buf[0] != FTMSOpCodeResponseCode {
		return
	}
	msg := make([]byte, len(buf))
	copy(msg, buf)
	select {
	case c.responses <- msg:
	default:
		c.logger.Printf("FTMS: dropping control point response %x", msg)
	}
}

func (c *ftmsControl) requestControl() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestControlLocked()
}

func (c *ftmsControl) requestControlLocked() error {
	if err := c.sendLocked(FTMSOpCodeRequestControl); err != nil {
		return err
	}
	c.granted = true
	c.logger.Printf("FTMS: control granted")
	return nil
}

// setTargetPower sends Set Target Power (SINT16 watts) for ERG mode.
func (c *ftmsControl) setTargetPower(watts int) error {
	power := clampInt16(watts)
	return c.command(FTMSOpCodeSetTargetPower, byte(power&0xFF), byte((power>>8)&0xFF))
}

// setTargetResistance sends Set Target Resistance Level with 0.1 resolution.
func (c *ftmsControl) setTargetResistance(level float64) error {
	raw := clampInt16(int(math.Round(level * 10)))
	return c.command(FTMSOpCodeSetTargetResistance, byte(raw&0xFF), byte((raw>>8)&0xFF))
}

// command sends opcode, requesting control first when needed and once more
// if the trainer reports control was lost.
func (c *ftmsControl) command(opcode byte, params ...byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.granted {
		if err := c.requestControlLocked(); err != nil {
			return err
		}
	}
	err := c.sendLocked(opcode, params...)
	if errors.Is(err, errControlNotPermitted) {
		c.granted = false
		if err := c.requestControlLocked(); err != nil {
			return err
		}
		err = c.sendLocked(opcode, params...)
	}
	return err
}

func (c *ftmsControl) sendLocked(opcode byte, params ...byte) error {
	// Drop responses to earlier commands that arrived after their timeout
	for len(c.responses) > 0 {
		<-c.responses
	}

	data := append([]byte{opcode}, params...)
	if _, err := c.cp.Write(data); err != nil {
		if isTimeoutText(err) {
			return fmt.Errorf("%w: write opcode 0x%02X: %v", radio.ErrTimeout, opcode, err)
		}
		return fmt.Errorf("ftms: write opcode 0x%02X: %w", opcode, err)
	}

	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	for {
		select {
		case msg := <-c.responses:
			if msg[1] != opcode {
				continue
			}
			return resultError(opcode, msg[2])
		case <-deadline.C:
			return fmt.Errorf("%w: no response to opcode 0x%02X within %v", radio.ErrTimeout, opcode, c.timeout)
		}
	}
}

func resultError(opcode, result byte) error {
	switch result {
	case FTMSResultSuccess:
		return nil
	case FTMSResultControlNotPermitted:
		return fmt.Errorf("%w: opcode 0x%02X", errControlNotPermitted, opcode)
	case FTMSResultOpCodeNotSupported:
		return fmt.Errorf("ftms: opcode 0x%02X not supported", opcode)
	case FTMSResultInvalidParameter:
		return fmt.Errorf("ftms: opcode 0x%02X invalid parameter", opcode)
	case FTMSResultOperationFailed:
		return fmt.Errorf("ftms: opcode 0x%02X operation failed", opcode)
	default:
		return fmt.Errorf("ftms: opcode 0x%02X unknown result 0x%02X", opcode, result)
	}
}

func clampInt16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func isTimeoutText(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "timeout") || strings.Contains(text, "timed out")
}
