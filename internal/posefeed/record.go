// Package posefeed reads and writes streams of tracked poses as JSON lines,
// from files or from tracking hardware attached to a serial port.
package posefeed

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.capture/internal/frame"
	"github.com/banshee-data/motion.capture/internal/spatial"
)

// maxLineBytes bounds a single record line.
const maxLineBytes = 64 * 1024

// Record is one pose line. Exactly one of Quat, Euler and Matrix carries the
// rotation; Matrix also carries the position.
//
//	{"part":0,"device":"controller","t":1700000000000000000,"p":[0,1.2,0.3],"q":[0,0,0,1]}
type Record struct {
	Part      int          `json:"part"`
	Device    string       `json:"device,omitempty"`
	Timestamp int64        `json:"t,omitempty"`
	Position  [3]float64   `json:"p"`
	Quat      *[4]float64  `json:"q,omitempty"` // x, y, z, w
	Euler     *[3]float64  `json:"euler,omitempty"`
	Matrix    *[16]float64 `json:"m,omitempty"`
}

// ErrNoRotation is returned for records without a rotation field.
var ErrNoRotation = errors.New("record has no rotation (q, euler or m)")

// FromPose builds a quaternion record.
func FromPose(part int, device frame.DeviceType, p spatial.Pose) Record {
	return Record{
		Part:      part,
		Device:    device.String(),
		Timestamp: p.Timestamp,
		Position:  [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
		Quat:      &[4]float64{p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag, p.Rotation.Real},
	}
}

// DeviceType parses the device field; an empty field means controller.
func (r Record) DeviceType() (frame.DeviceType, error) {
	d, ok := frame.ParseDeviceType(strings.ToLower(r.Device))
	if !ok {
		return d, fmt.Errorf("unknown device %q", r.Device)
	}
	return d, nil
}

// Sample returns the record as a host sample for a frame.Converter.
func (r Record) Sample() (frame.Sample, error) {
	pos := r3.Vec{X: r.Position[0], Y: r.Position[1], Z: r.Position[2]}
	switch {
	case r.Matrix != nil:
		return frame.MatrixSample{Transform: spatial.Matrix(*r.Matrix), Timestamp: r.Timestamp}, nil
	case r.Quat != nil:
		q := quat.Number{Imag: r.Quat[0], Jmag: r.Quat[1], Kmag: r.Quat[2], Real: r.Quat[3]}
		return frame.QuatSample{Position: pos, Rotation: q, Timestamp: r.Timestamp}, nil
	case r.Euler != nil:
		e := spatial.Euler{X: r.Euler[0], Y: r.Euler[1], Z: r.Euler[2]}
		return frame.EulerSample{Position: pos, Angles: e, Timestamp: r.Timestamp}, nil
	}
	return nil, ErrNoRotation
}

// Decoder reads records line by line. Blank lines and lines starting with
// '#' are skipped.
type Decoder struct {
	sc   *bufio.Scanner
	line int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &Decoder{sc: sc}
}

// Next returns the next record, or io.EOF at the end of the stream.
func (d *Decoder) Next() (Record, error) {
	for d.sc.Scan() {
		d.line++
		text := strings.TrimSpace(d.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return Record{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return rec, nil
	}
	if err := d.sc.Err(); err != nil {
		return Record{}, fmt.Errorf("line %d: %w", d.line+1, err)
	}
	return Record{}, io.EOF
}

// Line returns the number of the last line read.
func (d *Decoder) Line() int { return d.line }

// Encoder writes one JSON record per line.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes rec followed by a newline.
func (e *Encoder) Encode(rec Record) error {
	return e.enc.Encode(rec)
}
