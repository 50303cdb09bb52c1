package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/ultisoc/bootmon/internal/xmodem"
)

const defaultReadTimeout = 100 * time.Millisecond

// Port wraps a serial port as an XModem byte channel.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
	timeout  time.Duration // read timeout currently set on the port
	buf      [1]byte
}

// Open opens a serial port with the specified baud rate, 8N1.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	// Set read timeout
	if err := port.SetReadTimeout(defaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
		timeout:  defaultReadTimeout,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// SendByte writes a single byte.
func (p *Port) SendByte(b byte) error {
	p.buf[0] = b
	if _, err := p.port.Write(p.buf[:]); err != nil {
		return fmt.Errorf("write %s: %w", p.portName, err)
	}
	return nil
}

// ReceiveByte waits up to timeout for a byte. It returns xmodem.ErrTimeout
// when nothing arrived.
func (p *Port) ReceiveByte(timeout time.Duration) (byte, error) {
	if timeout != p.timeout {
		if err := p.port.SetReadTimeout(timeout); err != nil {
			return 0, fmt.Errorf("set read timeout: %w", err)
		}
		p.timeout = timeout
	}

	n, err := p.port.Read(p.buf[:])
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", p.portName, err)
	}
	if n == 0 {
		return 0, xmodem.ErrTimeout
	}
	return p.buf[0], nil
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// Reset pulses RTS, which resets boards wired for auto-reset.
func (p *Port) Reset() error {
	// Pull reset low then release
	if err := p.port.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.port.SetRTS(false); err != nil {
		return err
	}

	// Drop whatever the board printed while in reset
	time.Sleep(50 * time.Millisecond)
	return p.Flush()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// PortInfo describes an available port.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// Describe returns a short human-readable summary.
func (i PortInfo) Describe() string {
	if !i.USB {
		return i.Name
	}
	s := fmt.Sprintf("%s [USB %s:%s]", i.Name, i.VID, i.PID)
	if i.Product != "" {
		s += " " + i.Product
	}
	if i.Serial != "" {
		s += " (" + i.Serial + ")"
	}
	return s
}

// ListPortDetails returns available ports with USB details where known.
func ListPortDetails() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, PortInfo{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
		})
	}
	return infos, nil
}
