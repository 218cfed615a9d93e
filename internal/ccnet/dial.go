package ccnet

import (
	"os"
	"time"

	"github.com/tarm/serial"

	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

// PortExists reports whether the given device path is present on
// disk, useful for a preflight check before Dial.
func PortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DialConfig describes how to open the serial link to the device.
// The protocol fixes 8 data bits, no parity, one stop bit and 9600
// baud; DialConfig exists so callers can still point at a different
// device path or adjust the read timeout without hand-building a
// tarm/serial.Config.
type DialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeoutMs int
}

// Dial opens the serial port described by cfg and wraps it as a
// SerialPort. Callers own the returned port and must Close it (the
// Controller never does so on their behalf).
func Dial(cfg DialConfig) (SerialPort, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 9600
	}
	timeoutMs := cfg.ReadTimeoutMs
	if timeoutMs == 0 {
		timeoutMs = 2000
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        baud,
		ReadTimeout: time.Duration(timeoutMs) * time.Millisecond,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, ccneterr.Wrap(ccneterr.KindTransport, "dial", err)
	}
	return port, nil
}
