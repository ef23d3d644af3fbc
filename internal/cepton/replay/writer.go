package replay

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Writer records sensor datagrams to a pcap file as Ethernet/IPv4/UDP frames.
type Writer struct {
	f    *os.File
	w    *pcapgo.Writer
	buf  gopacket.SerializeBuffer
	dst  net.IP
	port uint16
}

// CreateCapture creates path and writes the pcap file header. Datagrams are
// addressed to dst:port.
func CreateCapture(path string, dst net.IP, port uint16) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	if dst == nil {
		dst = net.IPv4(255, 255, 255, 255)
	}
	return &Writer{f: f, w: w, buf: gopacket.NewSerializeBuffer(), dst: dst.To4(), port: port}, nil
}

// WritePacket appends one datagram sent by the sensor at addr.
func (w *Writer) WritePacket(ts time.Time, addr uint32, payload []byte) error {
	src := make(net.IP, 4)
	binary.BigEndian.PutUint32(src, addr)

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, src[0], src[1], src[2], src[3]},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src,
		DstIP:    w.dst,
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(w.port), DstPort: layers.UDPPort(w.port)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(w.buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize datagram: %w", err)
	}
	data := w.buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	return w.w.WritePacket(ci, data)
}

// Close closes the file.
func (w *Writer) Close() error {
	return w.f.Close()
}
