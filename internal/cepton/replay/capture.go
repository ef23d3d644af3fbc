package replay

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
)

// DefaultPort is the UDP port sensors stream to.
const DefaultPort = 8808

// minGap bounds the synthetic interval appended after the last packet.
const minGap = time.Millisecond

// Packet is one captured UDP datagram.
type Packet struct {
	Timestamp uint64 // capture time, unix microseconds
	Offset    uint64 // microseconds since the first packet, never decreasing
	Addr      uint32 // source IPv4 address
	Payload   []byte
}

// Capture is a capture file held in memory.
type Capture struct {
	Path    string
	Packets []Packet
	// Gap is the interval that follows the last packet: the mean packet
	// interval, at least one millisecond. Length includes it so every packet
	// offset lies in [0, Length).
	Gap time.Duration
}

// StartTime returns the first packet's capture time in unix microseconds.
func (c *Capture) StartTime() uint64 {
	if len(c.Packets) == 0 {
		return 0
	}
	return c.Packets[0].Timestamp
}

// Length returns the capture duration.
func (c *Capture) Length() time.Duration {
	if len(c.Packets) == 0 {
		return 0
	}
	last := c.Packets[len(c.Packets)-1].Offset
	return time.Duration(last)*time.Microsecond + c.Gap
}

var (
	pcapMagics = map[uint32]bool{0xa1b2c3d4: true, 0xd4c3b2a1: true, 0xa1b23c4d: true, 0x4d3cb2a1: true}
	pcapngMagic = uint32(0x0a0d0d0a)
)

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// LoadCapture reads every UDP datagram from a pcap or pcapng file. When port
// is non-zero only datagrams to that destination port are kept.
func LoadCapture(path string, port int) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %v: %w", path, err, cepton.ErrFileIO)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header %s: %w", path, cepton.ErrInvalidFileType)
	}
	magic := binary.LittleEndian.Uint32(head)

	var r packetReader
	switch {
	case magic == pcapngMagic:
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	case pcapMagics[magic]:
		r, err = pcapgo.NewReader(br)
	default:
		return nil, fmt.Errorf("%s is not a pcap capture: %w", path, cepton.ErrInvalidFileType)
	}
	if err != nil {
		return nil, fmt.Errorf("capture header %s: %v: %w", path, err, cepton.ErrCorruptFile)
	}

	c := &Capture{Path: path}
	var skipped int
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s after %d packets: %v: %w", path, len(c.Packets), err, cepton.ErrCorruptFile)
		}
		addr, payload, ok := udpPayload(data, r.LinkType(), port)
		if !ok {
			skipped++
			continue
		}
		c.append(uint64(ci.Timestamp.UnixMicro()), addr, payload)
	}
	if len(c.Packets) == 0 {
		return nil, fmt.Errorf("%s has no sensor datagrams (%d other packets): %w", path, skipped, cepton.ErrCorruptFile)
	}
	c.Gap = minGap
	if n := len(c.Packets); n > 1 {
		mean := time.Duration(c.Packets[n-1].Offset/uint64(n-1)) * time.Microsecond
		if mean > c.Gap {
			c.Gap = mean
		}
	}
	logger.Printf("loaded %s: %d datagrams, %d skipped, length %v", path, len(c.Packets), skipped, c.Length())
	return c, nil
}

func (c *Capture) append(ts uint64, addr uint32, payload []byte) {
	var offset uint64
	if n := len(c.Packets); n > 0 {
		first := c.Packets[0].Timestamp
		offset = c.Packets[n-1].Offset
		if ts > first && ts-first > offset {
			offset = ts - first
		}
	}
	c.Packets = append(c.Packets, Packet{Timestamp: ts, Offset: offset, Addr: addr, Payload: payload})
}

func udpPayload(data []byte, link layers.LinkType, port int) (uint32, []byte, bool) {
	pkt := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return 0, nil, false
	}
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return 0, nil, false
	}
	if port != 0 && int(udp.DstPort) != port {
		return 0, nil, false
	}
	src := ip.SrcIP.To4()
	if src == nil {
		return 0, nil, false
	}
	return binary.BigEndian.Uint32(src), udp.Payload, true
}
