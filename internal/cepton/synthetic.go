package cepton

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Packet is one decoded sensor datagram.
type Packet struct {
	Info   SensorInfo // Handle is assigned by the engine
	Status ErrorCode  // status reported by the sensor; faults are negative
	Points []ImagePoint
}

// Decoder turns a raw datagram into a Packet. The vendor wire format is
// handled by an external decoder; SyntheticCodec covers simulation and
// recorded test captures.
type Decoder interface {
	Decode(payload []byte) (*Packet, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(payload []byte) (*Packet, error)

// Decode calls f(payload).
func (f DecoderFunc) Decode(payload []byte) (*Packet, error) { return f(payload) }

// Synthetic packet layout, little-endian:
//
//	magic "CPSY" | version u8 | status i32 | serial u64 | model u32 |
//	return_count u8 | flags u32 | temperature f32 | humidity f32 | age f32 |
//	gps [6]u8 | model_name (u8 len + bytes) | firmware (u8 len + bytes) |
//	n_points u16 | n_points x point
//
// point: timestamp u64 | image_x f32 | distance f32 | image_z f32 |
// intensity f32 | return_number u8 | valid u8
const (
	syntheticMagic     = "CPSY"
	syntheticVersion   = 1
	syntheticPointSize = 26
	syntheticMaxPoints = math.MaxUint16
)

// SyntheticCodec encodes and decodes the synthetic packet format.
type SyntheticCodec struct{}

// Encode serialises a packet. Strings longer than 255 bytes are truncated.
func (SyntheticCodec) Encode(pkt *Packet) ([]byte, error) {
	if len(pkt.Points) > syntheticMaxPoints {
		return nil, fmt.Errorf("%d points exceeds packet limit %d: %w", len(pkt.Points), syntheticMaxPoints, ErrInvalidArguments)
	}
	info := pkt.Info
	model := truncate(info.ModelName, 255)
	fw := truncate(info.FirmwareVersion, 255)

	buf := make([]byte, 0, 48+len(model)+len(fw)+len(pkt.Points)*syntheticPointSize)
	buf = append(buf, syntheticMagic...)
	buf = append(buf, syntheticVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(pkt.Status)))
	buf = binary.LittleEndian.AppendUint64(buf, info.SerialNumber)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(info.Model))
	buf = append(buf, info.ReturnCount)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(info.Flags))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(info.LastReportedTemperature))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(info.LastReportedHumidity))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(info.LastReportedAge))
	g := info.GPSTimestamp
	buf = append(buf, g.Year, g.Month, g.Day, g.Hour, g.Minute, g.Second)
	buf = append(buf, byte(len(model)))
	buf = append(buf, model...)
	buf = append(buf, byte(len(fw)))
	buf = append(buf, fw...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(pkt.Points)))
	for _, p := range pkt.Points {
		buf = binary.LittleEndian.AppendUint64(buf, p.Timestamp)
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.ImageX))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.Distance))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.ImageZ))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.Intensity))
		valid := byte(0)
		if p.Valid {
			valid = 1
		}
		buf = append(buf, p.ReturnNumber, valid)
	}
	return buf, nil
}

// Decode parses a synthetic packet. Malformed input yields ErrCorruptFile
// and a foreign magic yields ErrInvalidFileType.
func (SyntheticCodec) Decode(payload []byte) (*Packet, error) {
	r := byteReader{buf: payload}
	if string(r.next(4)) != syntheticMagic {
		return nil, fmt.Errorf("not a synthetic packet: %w", ErrInvalidFileType)
	}
	if v := r.u8(); v != syntheticVersion {
		return nil, fmt.Errorf("synthetic packet version %d: %w", v, ErrSDKVersionMismatch)
	}
	pkt := &Packet{}
	pkt.Status = ErrorCode(int32(r.u32()))
	info := &pkt.Info
	info.SerialNumber = r.u64()
	info.Model = SensorModel(r.u32())
	info.ReturnCount = r.u8()
	info.Flags = SensorFlags(r.u32())
	info.LastReportedTemperature = math.Float32frombits(r.u32())
	info.LastReportedHumidity = math.Float32frombits(r.u32())
	info.LastReportedAge = math.Float32frombits(r.u32())
	gps := r.next(6)
	if len(gps) == 6 {
		info.GPSTimestamp = GPSTimestamp{gps[0], gps[1], gps[2], gps[3], gps[4], gps[5]}
	}
	info.ModelName = string(r.next(int(r.u8())))
	info.FirmwareVersion = string(r.next(int(r.u8())))

	n := int(r.u16())
	if r.err {
		return nil, fmt.Errorf("truncated synthetic header: %w", ErrCorruptFile)
	}
	if r.remaining() != n*syntheticPointSize {
		return nil, fmt.Errorf("synthetic packet carries %d bytes for %d points: %w", r.remaining(), n, ErrCorruptFile)
	}
	pkt.Points = make([]ImagePoint, n)
	for i := range pkt.Points {
		p := &pkt.Points[i]
		p.Timestamp = r.u64()
		p.ImageX = math.Float32frombits(r.u32())
		p.Distance = math.Float32frombits(r.u32())
		p.ImageZ = math.Float32frombits(r.u32())
		p.Intensity = math.Float32frombits(r.u32())
		p.ReturnNumber = r.u8()
		p.Valid = r.u8() != 0
	}
	return pkt, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// byteReader reads little-endian fields and latches the first short read.
type byteReader struct {
	buf []byte
	off int
	err bool
}

func (r *byteReader) next(n int) []byte {
	if r.err || r.off+n > len(r.buf) {
		r.err = true
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *byteReader) remaining() int { return len(r.buf) - r.off }

func (r *byteReader) u8() uint8 {
	if b := r.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *byteReader) u16() uint16 {
	if b := r.next(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *byteReader) u32() uint32 {
	if b := r.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *byteReader) u64() uint64 {
	if b := r.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}
