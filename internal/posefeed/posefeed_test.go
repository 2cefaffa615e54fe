package posefeed

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.capture/internal/frame"
	"github.com/banshee-data/motion.capture/internal/spatial"
)

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func TestDecodeEncodings(t *testing.T) {
	t.Parallel()
	input := `
# recorded with openxr
{"part":0,"t":10,"p":[1,2,3],"q":[0,0,0,1]}

{"part":1,"device":"headset","t":20,"p":[0,1.7,0],"euler":[0,90,0]}
{"part":0,"t":30,"m":[1,0,0,4, 0,1,0,5, 0,0,1,6, 0,0,0,1]}
`
	dec := NewDecoder(strings.NewReader(input))
	conv, err := frame.NewConverter(frame.IdentitySpec())
	require.NoError(t, err)

	var poses []spatial.Pose
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		s, err := rec.Sample()
		require.NoError(t, err)
		p, err := conv.Decode(s)
		require.NoError(t, err)
		poses = append(poses, p)
	}
	require.Len(t, poses, 3)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, poses[0].Position)
	assert.Equal(t, int64(20), poses[1].Timestamp)
	assert.Equal(t, r3.Vec{X: 4, Y: 5, Z: 6}, poses[2].Position)
	assert.Equal(t, 6, dec.Line())
}

func TestDeviceType(t *testing.T) {
	t.Parallel()
	d, err := Record{}.DeviceType()
	require.NoError(t, err)
	assert.Equal(t, frame.DeviceController, d)

	d, err = Record{Device: "HMD"}.DeviceType()
	require.NoError(t, err)
	assert.Equal(t, frame.DeviceHeadset, d)

	_, err = Record{Device: "tracker"}.DeviceType()
	assert.Error(t, err)
}

func TestRecordWithoutRotation(t *testing.T) {
	t.Parallel()
	_, err := Record{Position: [3]float64{1, 2, 3}}.Sample()
	assert.ErrorIs(t, err, ErrNoRotation)
}

func TestDecodeMalformedLine(t *testing.T) {
	t.Parallel()
	dec := NewDecoder(strings.NewReader("{\"part\":0,\"q\":[0,0,0,1]}\n{not json}\n"))
	_, err := dec.Next()
	require.NoError(t, err)
	_, err = dec.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	p := spatial.NewPose(r3.Vec{X: 0.5, Y: 1, Z: -2}, spatial.AxisAngle(r3.Vec{Y: 1}, 0.3), 99)
	require.NoError(t, enc.Encode(FromPose(1, frame.DeviceController, p)))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	rec, err := NewDecoder(&buf).Next()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Part)
	assert.Equal(t, "controller", rec.Device)

	s, err := rec.Sample()
	require.NoError(t, err)
	qs, ok := s.(frame.QuatSample)
	require.True(t, ok)
	assert.Equal(t, p.Position, qs.Position)
	assert.Equal(t, p.Rotation, qs.Rotation)
	assert.Equal(t, p.Timestamp, qs.Timestamp)
}

// ---------------------------------------------------------------------------
// Serial
// ---------------------------------------------------------------------------

func TestSerialMode(t *testing.T) {
	t.Parallel()
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, mode)

	mode, err = PortOptions{BaudRate: 9600, StopBits: 2, Parity: " odd "}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	mode, err = PortOptions{Parity: "mark"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.MarkParity, mode.Parity)

	for _, bad := range []PortOptions{{DataBits: 9}, {DataBits: 4}, {StopBits: 3}, {Parity: "X"}} {
		_, err := bad.SerialMode()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestParseFrameFormat(t *testing.T) {
	t.Parallel()
	opts, err := ParseFrameFormat("7e2", PortOptions{BaudRate: 57600})
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 57600, DataBits: 7, Parity: "E", StopBits: 2}, opts)

	mode, err := opts.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	opts, err = ParseFrameFormat("8Q1", PortOptions{})
	require.NoError(t, err)
	_, err = opts.SerialMode()
	assert.Error(t, err)

	for _, bad := range []string{"", "8N", "9N1", "8N3", "8N1x"} {
		_, err := ParseFrameFormat(bad, PortOptions{})
		assert.Error(t, err, bad)
	}
}

type fakePort struct {
	*strings.Reader
	closed bool
}

func (f *fakePort) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakePort) Close() error                { f.closed = true; return nil }

func TestOpenSerial(t *testing.T) {
	t.Parallel()
	port := &fakePort{Reader: strings.NewReader(`{"part":2,"p":[0,0,0],"q":[0,0,0,1]}` + "\n")}
	var gotPath string
	var gotMode *serial.Mode
	src, err := OpenSerial("/dev/ttyACM0", PortOptions{BaudRate: 230400}, func(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
		gotPath, gotMode = path, mode
		return port, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", gotPath)
	assert.Equal(t, 230400, gotMode.BaudRate)
	assert.Equal(t, "/dev/ttyACM0", src.Path())

	rec, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Part)
	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Close())
	assert.True(t, port.closed)
}

func TestOpenSerialErrors(t *testing.T) {
	t.Parallel()
	_, err := OpenSerial("/dev/null", PortOptions{DataBits: 4}, nil)
	assert.Error(t, err)

	boom := errors.New("permission denied")
	_, err = OpenSerial("/dev/ttyUSB0", PortOptions{}, func(string, *serial.Mode) (io.ReadWriteCloser, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}
