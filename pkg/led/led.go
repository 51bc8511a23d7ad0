// Package led drives the illumination rig over a serial link to the
// Arduino LED driver. The protocol is fire-and-forget: "<brightness> <pin>\n".
// Every failure path is a logged warning, never an error: verification
// must not abort because a lamp did not answer.
package led

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/dispensio/trayverify/internal/log"
)

// Channel identifies one LED bank on the rig.
type Channel int

// LED banks and their Arduino PWM pins.
const (
	SideNorth Channel = 9
	SideSouth Channel = 10
	Upper     Channel = 11
)

// Valid reports whether the channel maps to a known pin.
func (c Channel) Valid() bool {
	return c == SideNorth || c == SideSouth || c == Upper
}

func (c Channel) String() string {
	switch c {
	case SideNorth:
		return "side-north"
	case SideSouth:
		return "side-south"
	case Upper:
		return "upper"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ChannelFromName resolves a channel by its rig name.
func ChannelFromName(name string) (Channel, bool) {
	switch name {
	case "side-north":
		return SideNorth, true
	case "side-south":
		return SideSouth, true
	case "upper":
		return Upper, true
	}
	return 0, false
}

// serialPort is the slice of serial.Port the controller uses; tests
// substitute a fake.
type serialPort interface {
	Write(p []byte) (int, error)
	Close() error
}

// Controller holds the serial connection to the LED driver.
type Controller struct {
	port string
	baud int

	mu   sync.Mutex
	conn serialPort

	open func(port string, baud int) (serialPort, error)
}

// New connects to the LED driver. A failed connection is logged, not
// returned: the controller reconnects lazily on the next SetBrightness.
func New(port string, baud int) *Controller {
	if baud == 0 {
		baud = 115200
	}
	c := &Controller{port: port, baud: baud, open: openPort}
	if err := c.connect(); err != nil {
		log.Warn("led: initial connect failed", "port", port, "error", err)
	}
	return c
}

func openPort(port string, baud int) (serialPort, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	// The Arduino resets on open; give the bootloader time to pass.
	time.Sleep(2 * time.Second)
	return p, nil
}

func (c *Controller) connect() error {
	if c.port == "" {
		return fmt.Errorf("no serial port configured")
	}
	conn, err := c.open(c.port, c.baud)
	if err != nil {
		return err
	}
	c.conn = conn
	log.Info("led: connected", "port", c.port, "baud", c.baud)
	return nil
}

// SetBrightness sets one LED bank. Brightness must be 0 (off) or within
// 30..180; anything else, or an unknown channel, is a no-op with a
// logged warning.
func (c *Controller) SetBrightness(brightness int, ch Channel) {
	if (brightness < 30 || brightness > 180) && brightness != 0 {
		log.Warn("led: brightness must be 0 or between 30 and 180", "value", brightness)
		return
	}
	if !ch.Valid() {
		log.Warn("led: unknown channel", "channel", int(ch))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		log.Warn("led: connection lost, reconnecting", "port", c.port)
		if err := c.connect(); err != nil {
			log.Error("led: reconnect failed", "port", c.port, "error", err)
			return
		}
	}

	cmd := fmt.Sprintf("%d %d\n", brightness, int(ch))
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		log.Error("led: write failed", "error", err)
		c.conn.Close()
		c.conn = nil
		return
	}
	log.Debug("led: sent", "command", cmd[:len(cmd)-1])
}

// Close releases the serial connection.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		log.Info("led: serial port closed")
	}
}
