package posefeed

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection to a tracking device. Zero
// values select 115200 baud, 8 data bits, no parity and one stop bit.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"` // N, E, O, M or S; full names are accepted
}

const defaultBaudRate = 115200

var parities = map[string]serial.Parity{
	"N": serial.NoParity, "NONE": serial.NoParity,
	"E": serial.EvenParity, "EVEN": serial.EvenParity,
	"O": serial.OddParity, "ODD": serial.OddParity,
	"M": serial.MarkParity, "MARK": serial.MarkParity,
	"S": serial.SpaceParity, "SPACE": serial.SpaceParity,
}

var stopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// ParseFrameFormat reads a compact frame format such as "8N1" or "7E2" into
// opts, keeping its baud rate.
func ParseFrameFormat(format string, opts PortOptions) (PortOptions, error) {
	f := strings.ToUpper(strings.TrimSpace(format))
	if len(f) != 3 || f[0] < '5' || f[0] > '8' || f[2] < '1' || f[2] > '2' {
		return opts, fmt.Errorf("invalid frame format %q: expected data bits, parity and stop bits like 8N1", format)
	}
	opts.DataBits = int(f[0] - '0')
	opts.Parity = f[1:2]
	opts.StopBits = int(f[2] - '0')
	return opts, nil
}

// SerialMode validates the options and converts them into the mode
// go.bug.st/serial expects.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: o.BaudRate, DataBits: o.DataBits, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	if mode.BaudRate <= 0 {
		mode.BaudRate = defaultBaudRate
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	} else if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if o.StopBits != 0 {
		sb, ok := stopBits[o.StopBits]
		if !ok {
			return nil, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
		}
		mode.StopBits = sb
	}
	if p := strings.ToUpper(strings.TrimSpace(o.Parity)); p != "" {
		parity, ok := parities[p]
		if !ok {
			return nil, fmt.Errorf("unsupported parity %q", o.Parity)
		}
		mode.Parity = parity
	}
	return mode, nil
}

// PortOpener opens a serial device. Tests replace it to avoid hardware.
type PortOpener func(path string, mode *serial.Mode) (io.ReadWriteCloser, error)

// DefaultOpener opens a real port with go.bug.st/serial.
func DefaultOpener(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// SerialSource is a Decoder over a serial port.
type SerialSource struct {
	*Decoder
	port io.ReadWriteCloser
	path string
}

// OpenSerial opens path with opts and returns a record source over it. A nil
// opener uses DefaultOpener.
func OpenSerial(path string, opts PortOptions, open PortOpener) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = DefaultOpener
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return &SerialSource{Decoder: NewDecoder(port), port: port, path: path}, nil
}

// Path returns the device path.
func (s *SerialSource) Path() string { return s.path }

// Close closes the port.
func (s *SerialSource) Close() error { return s.port.Close() }
