package ccnet

import "io"

// SerialPort is the minimal surface the link transport needs from a
// serial connection. It exists so tests can substitute an in-memory
// fake instead of opening a real device.
type SerialPort interface {
	io.ReadWriteCloser
	Flush() error
}
