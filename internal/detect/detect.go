package detect

import (
	"errors"
	"fmt"
	"time"

	"github.com/ultisoc/bootmon/internal/protocol"
	"github.com/ultisoc/bootmon/internal/serial"
	"github.com/ultisoc/bootmon/internal/xmodem"
)

// ErrNoReceiver means no CRC request was seen in time.
var ErrNoReceiver = errors.New("no XModem receiver detected")

// quietPeriod is how long the line must stay silent after a 'C' for it to
// count as a receiver's request rather than console text.
const quietPeriod = 200 * time.Millisecond

// Result represents a port with a waiting XModem receiver.
type Result struct {
	Port        string
	Description string
}

// FindReceiver scans available ports and returns the first one whose
// receiver is waiting for a transfer.
func FindReceiver(baudRate int, timeout time.Duration) (*Result, error) {
	ports, err := serial.ListPortDetails()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, info := range ports {
		result, err := tryPort(info, baudRate, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w (last error: %v)", ErrNoReceiver, lastErr)
}

// ProbePort checks a single port for a waiting receiver.
func ProbePort(portName string, baudRate int, timeout time.Duration) (*Result, error) {
	return tryPort(serial.PortInfo{Name: portName}, baudRate, timeout)
}

// ListReceivers scans all ports and returns every one with a waiting receiver.
func ListReceivers(baudRate int, timeout time.Duration) ([]Result, error) {
	ports, err := serial.ListPortDetails()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, info := range ports {
		result, err := tryPort(info, baudRate, timeout)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

func tryPort(info serial.PortInfo, baudRate int, timeout time.Duration) (*Result, error) {
	port, err := serial.Open(info.Name, baudRate)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	if err := waitForSync(port, timeout); err != nil {
		return nil, fmt.Errorf("%s: %w", info.Name, err)
	}

	return &Result{
		Port:        info.Name,
		Description: info.Describe(),
	}, nil
}

// waitForSync waits for a CRC request followed by silence.
func waitForSync(ch xmodem.Channel, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrNoReceiver
		}

		b, err := ch.ReceiveByte(remaining)
		if errors.Is(err, xmodem.ErrTimeout) {
			return ErrNoReceiver
		} else if err != nil {
			return err
		}

		if b != protocol.CRQ {
			continue
		}

		// A waiting receiver goes quiet after each request
		if _, err := ch.ReceiveByte(quietPeriod); errors.Is(err, xmodem.ErrTimeout) {
			return nil
		} else if err != nil {
			return err
		}
	}
}
