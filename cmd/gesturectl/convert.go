package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/motion.capture/internal/frame"
	"github.com/banshee-data/motion.capture/internal/monitoring"
	"github.com/banshee-data/motion.capture/internal/posefeed"
	"github.com/banshee-data/motion.capture/internal/security"
)

type convertOptions struct {
	from, to               string
	fromRuntime, toRuntime string
	format                 string
	in, out                string
	serialPort             string
	serialBaud             int
	serialFormat           string
}

func newConvertCmd() *cobra.Command {
	var o convertOptions
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a JSON-lines pose stream between coordinate conventions",
		Long: `Reads pose records from a file, stdin or a serial tracker, maps them through
the native frame and writes them in the target convention.

  gesturectl convert --from unreal --to openxr --in take1.jsonl --out take1.openxr.jsonl
  gesturectl convert --from steamvr --from-runtime steamvr --to unity --serial /dev/ttyACM0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.from, "from", frame.ConventionNative, "input convention ("+strings.Join(frame.ConventionNames(), ", ")+")")
	f.StringVar(&o.to, "to", frame.ConventionNative, "output convention")
	f.StringVar(&o.fromRuntime, "from-runtime", string(frame.RuntimeOpenXR), "runtime that tracked the input")
	f.StringVar(&o.toRuntime, "to-runtime", "", "runtime to express controller rotations in (default: --from-runtime)")
	f.StringVar(&o.format, "format", "quat", "output rotation encoding: quat, euler or matrix")
	f.StringVar(&o.in, "in", "-", "input file, - for stdin")
	f.StringVar(&o.out, "out", "-", "output file, - for stdout")
	f.StringVar(&o.serialPort, "serial", "", "read from a serial tracker instead of --in")
	f.IntVar(&o.serialBaud, "baud", 0, "serial baud rate (default 115200)")
	f.StringVar(&o.serialFormat, "serial-format", "8N1", "serial data bits, parity and stop bits")
	return cmd
}

func runConvert(ctx context.Context, cmd *cobra.Command, o convertOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if o.toRuntime == "" {
		o.toRuntime = o.fromRuntime
	}
	// Both ends share the engine's native frame; the runtime correction is
	// applied on the way in and undone for the output runtime.
	src, err := frame.NewConverter(frame.Spec{Convention: o.from, Runtime: frame.Runtime(o.fromRuntime), TargetRuntime: frame.RuntimeOpenXR})
	if err != nil {
		return fmt.Errorf("input frame: %w", err)
	}
	dst, err := frame.NewConverter(frame.Spec{Convention: o.to, Runtime: frame.Runtime(o.toRuntime), TargetRuntime: frame.RuntimeOpenXR})
	if err != nil {
		return fmt.Errorf("output frame: %w", err)
	}

	var dec recordSource
	switch {
	case o.serialPort != "":
		opts, err := posefeed.ParseFrameFormat(o.serialFormat, posefeed.PortOptions{BaudRate: o.serialBaud})
		if err != nil {
			return err
		}
		s, err := posefeed.OpenSerial(o.serialPort, opts, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		dec = s
	case o.in == "-":
		dec = posefeed.NewDecoder(cmd.InOrStdin())
	default:
		f, err := os.Open(o.in)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		dec = posefeed.NewDecoder(f)
	}

	var w io.Writer = cmd.OutOrStdout()
	if o.out != "-" {
		if err := security.ValidateOutputPath(o.out); err != nil {
			return err
		}
		f, err := os.Create(o.out)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	n, err := convertStream(ctx, dec, posefeed.NewEncoder(w), src, dst, o.format)
	monitoring.Logf("[convert] %d records %s -> %s", n, o.from, o.to)
	return err
}

type recordSource interface {
	Next() (posefeed.Record, error)
}

// convertStream decodes on one goroutine and converts and encodes on
// another, so a slow writer does not stall a serial reader.
func convertStream(ctx context.Context, dec recordSource, enc *posefeed.Encoder, src, dst *frame.Converter, format string) (int, error) {
	switch format {
	case "quat", "euler", "matrix":
	default:
		return 0, fmt.Errorf("unknown format %q: expected quat, euler or matrix", format)
	}

	records := make(chan posefeed.Record, 64)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(records)
		for {
			rec, err := dec.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case records <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	count := 0
	g.Go(func() error {
		for rec := range records {
			out, err := convertRecord(rec, src, dst, format)
			if err != nil {
				return fmt.Errorf("record %d: %w", count+1, err)
			}
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
			count++
		}
		return nil
	})

	err := g.Wait()
	return count, err
}

func convertRecord(rec posefeed.Record, src, dst *frame.Converter, format string) (posefeed.Record, error) {
	device, err := rec.DeviceType()
	if err != nil {
		return posefeed.Record{}, err
	}
	sample, err := rec.Sample()
	if err != nil {
		return posefeed.Record{}, err
	}
	native, err := src.SampleToEngine(sample, device)
	if err != nil {
		return posefeed.Record{}, err
	}
	p, err := dst.FromEngine(native, device)
	if err != nil {
		return posefeed.Record{}, err
	}

	out := posefeed.FromPose(rec.Part, device, p)
	switch format {
	case "euler":
		e := dst.EulerOf(p.Rotation)
		out.Quat = nil
		out.Euler = &[3]float64{e.X, e.Y, e.Z}
	case "matrix":
		m := [16]float64(dst.MatrixOf(p))
		out.Quat = nil
		out.Position = [3]float64{}
		out.Matrix = &m
	}
	return out, nil
}
