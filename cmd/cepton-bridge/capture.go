package main

import (
	"fmt"
	"math"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/cepton/replay"
)

func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Create and inspect pcap captures",
	}
	cmd.AddCommand(newCaptureSynthCmd(), newCaptureInfoCmd())
	return cmd
}

// synthOptions describes a synthetic capture.
type synthOptions struct {
	Serials  []uint
	Packets  int
	Points   int
	Interval time.Duration
	Start    time.Time
	Port     int
}

func newCaptureSynthCmd() *cobra.Command {
	var opts synthOptions
	cmd := &cobra.Command{
		Use:   "synth <output.pcap>",
		Short: "Write a capture of synthetic sensor packets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Start = time.Now().UTC()
			n, err := writeSynthetic(args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d packets from %d sensors to %s\n", n, len(opts.Serials), args[0])
			return nil
		},
	}
	f := cmd.Flags()
	f.UintSliceVar(&opts.Serials, "sensors", []uint{1001, 1002}, "sensor serial numbers")
	f.IntVar(&opts.Packets, "packets", 100, "packets per sensor")
	f.IntVar(&opts.Points, "points", 64, "points per packet")
	f.DurationVar(&opts.Interval, "interval", 10*time.Millisecond, "time between packets of one sensor")
	f.IntVar(&opts.Port, "port", replay.DefaultPort, "destination UDP port")
	return cmd
}

// writeSynthetic writes opts.Packets packets per sensor, interleaved, each
// carrying a horizontal sweep of points. It returns the packet count.
func writeSynthetic(path string, opts synthOptions) (int, error) {
	if len(opts.Serials) == 0 || opts.Packets <= 0 || opts.Points <= 0 || opts.Interval <= 0 {
		return 0, fmt.Errorf("synthetic capture needs sensors, packets, points and a positive interval: %w", cepton.ErrInvalidArguments)
	}
	if opts.Port <= 0 || opts.Port > math.MaxUint16 {
		return 0, fmt.Errorf("port %d: %w", opts.Port, cepton.ErrInvalidArguments)
	}
	w, err := replay.CreateCapture(path, net.IPv4(192, 168, 1, 255), uint16(opts.Port))
	if err != nil {
		return 0, err
	}

	codec := cepton.SyntheticCodec{}
	startUsec := uint64(opts.Start.UnixMicro())
	stepUsec := uint64(opts.Interval / time.Microsecond)
	count := 0
	for i := 0; i < opts.Packets; i++ {
		for k, serial := range opts.Serials {
			at := opts.Start.Add(time.Duration(i) * opts.Interval)
			pkt := &cepton.Packet{
				Info: cepton.SensorInfo{
					SerialNumber:    uint64(serial),
					ModelName:       "VISTA-860",
					Model:           cepton.ModelVista860,
					FirmwareVersion: "synthetic",
					ReturnCount:     1,
				},
				Points: sweep(startUsec+uint64(i)*stepUsec, stepUsec, opts.Points, i),
			}
			payload, err := codec.Encode(pkt)
			if err != nil {
				w.Close()
				return count, err
			}
			addr := uint32(192)<<24 | uint32(168)<<16 | uint32(1)<<8 | uint32(10+k)
			if err := w.WritePacket(at, addr, payload); err != nil {
				w.Close()
				return count, err
			}
			count++
		}
	}
	return count, w.Close()
}

// sweep returns n points spread across the field of view, timestamped
// within one packet interval.
func sweep(tsUsec, spanUsec uint64, n, seq int) []cepton.ImagePoint {
	points := make([]cepton.ImagePoint, n)
	phase := float64(seq) * 0.05
	for j := range points {
		frac := float64(j) / float64(n)
		points[j] = cepton.ImagePoint{
			Timestamp: tsUsec + uint64(frac*float64(spanUsec)),
			ImageX:    float32(-0.5 + frac),
			ImageZ:    float32(0.1 * math.Sin(2*math.Pi*frac+phase)),
			Distance:  float32(10 + 2*math.Cos(2*math.Pi*frac)),
			Intensity: float32(frac),
			Valid:     true,
		}
	}
	return points
}

func newCaptureInfoCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "info <capture.pcap>",
		Short: "Summarise a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := replay.LoadCapture(args[0], port)
			if err != nil {
				return err
			}
			sources := make(map[uint32]int)
			for _, p := range c.Packets {
				sources[p.Addr]++
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "packets:  %d\n", len(c.Packets))
			fmt.Fprintf(out, "sources:  %d\n", len(sources))
			fmt.Fprintf(out, "start:    %s\n", time.UnixMicro(int64(c.StartTime())).UTC().Format(time.RFC3339Nano))
			fmt.Fprintf(out, "length:   %s\n", c.Length())
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", replay.DefaultPort, "UDP port to read")
	return cmd
}
