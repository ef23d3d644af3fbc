// Package wire is the protobuf wire encoding of published messages, shared by
// the network sinks.
//
//	message Envelope {
//	  string topic = 1;
//	  Frame frame = 2;
//	  SensorInfo info = 3;
//	}
//	message Frame {
//	  string id = 1;
//	  string sensor = 2;
//	  uint64 timestamp = 3;
//	  repeated uint64 point_timestamp = 4;
//	  repeated float x = 5;
//	  repeated float y = 6;
//	  repeated float z = 7;
//	  repeated float intensity = 8;
//	  repeated uint32 return_number = 9;
//	  repeated bool valid = 10;
//	}
//	message SensorInfo {
//	  uint64 handle = 1;
//	  uint64 serial_number = 2;
//	  string model_name = 3;
//	  uint32 model = 4;
//	  string firmware_version = 5;
//	  float temperature = 6;
//	  float humidity = 7;
//	  float age = 8;
//	  bytes gps_timestamp = 9;
//	  uint32 return_count = 10;
//	  uint32 flags = 11;
//	}
package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/pointcloud"
	"github.com/banshee-data/cepton-bridge/internal/publish"
)

// ContentType names the encoding for transports that carry one.
const ContentType = "application/x-protobuf; messageType=cepton.Envelope"

var errPointCount = errors.New("point field lengths differ")

// Marshal encodes msg as an Envelope.
func Marshal(msg publish.Message) []byte {
	var b []byte
	if msg.Topic != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, msg.Topic)
	}
	if msg.Frame != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalFrame(msg.Frame))
	}
	if msg.Info != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalInfo(msg.Info))
	}
	return b
}

// Unmarshal decodes an Envelope. Unknown fields are skipped.
func Unmarshal(b []byte) (publish.Message, error) {
	var msg publish.Message
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			msg.Topic = string(v)
		case 2:
			f, err := unmarshalFrame(v)
			if err != nil {
				return fmt.Errorf("frame: %w", err)
			}
			msg.Frame = f
		case 3:
			info, err := unmarshalInfo(v)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			msg.Info = info
		}
		return nil
	})
	return msg, err
}

func marshalFrame(f *pointcloud.Frame) []byte {
	var b []byte
	b = appendString(b, 1, f.ID)
	b = appendString(b, 2, f.Sensor)
	if f.Timestamp != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, f.Timestamp)
	}
	if len(f.Points) == 0 {
		return b
	}
	var ts, xs, ys, zs, in, rn, valid []byte
	for _, p := range f.Points {
		ts = protowire.AppendVarint(ts, p.Timestamp)
		xs = protowire.AppendFixed32(xs, math.Float32bits(p.X))
		ys = protowire.AppendFixed32(ys, math.Float32bits(p.Y))
		zs = protowire.AppendFixed32(zs, math.Float32bits(p.Z))
		in = protowire.AppendFixed32(in, math.Float32bits(p.Intensity))
		rn = protowire.AppendVarint(rn, uint64(p.ReturnNumber))
		valid = protowire.AppendVarint(valid, protowire.EncodeBool(p.Valid))
	}
	for i, packed := range [][]byte{ts, xs, ys, zs, in, rn, valid} {
		b = protowire.AppendTag(b, protowire.Number(4+i), protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

func unmarshalFrame(b []byte) (*pointcloud.Frame, error) {
	f := &pointcloud.Frame{}
	var ts, rn, valid []uint64
	var xs, ys, zs, in []float32
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			f.ID = string(v)
		case 2:
			f.Sensor = string(v)
		case 3:
			f.Timestamp, err = scalar(typ, v)
		case 4:
			ts, err = packedVarints(ts, typ, v)
		case 5:
			xs, err = packedFloats(xs, typ, v)
		case 6:
			ys, err = packedFloats(ys, typ, v)
		case 7:
			zs, err = packedFloats(zs, typ, v)
		case 8:
			in, err = packedFloats(in, typ, v)
		case 9:
			rn, err = packedVarints(rn, typ, v)
		case 10:
			valid, err = packedVarints(valid, typ, v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	n := len(xs)
	for _, l := range []int{len(ts), len(ys), len(zs), len(in), len(rn), len(valid)} {
		if l != n {
			return nil, errPointCount
		}
	}
	if n > 0 {
		f.Points = make([]pointcloud.CartesianPoint, n)
	}
	for i := range f.Points {
		f.Points[i] = pointcloud.CartesianPoint{
			Timestamp:    ts[i],
			X:            xs[i],
			Y:            ys[i],
			Z:            zs[i],
			Intensity:    in[i],
			ReturnNumber: uint8(rn[i]),
			Valid:        protowire.DecodeBool(valid[i]),
		}
	}
	return f, nil
}

func marshalInfo(info *cepton.SensorInfo) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(info.Handle))
	b = appendVarint(b, 2, info.SerialNumber)
	b = appendString(b, 3, info.ModelName)
	b = appendVarint(b, 4, uint64(info.Model))
	b = appendString(b, 5, info.FirmwareVersion)
	b = appendFloat(b, 6, info.LastReportedTemperature)
	b = appendFloat(b, 7, info.LastReportedHumidity)
	b = appendFloat(b, 8, info.LastReportedAge)
	g := info.GPSTimestamp
	if g != (cepton.GPSTimestamp{}) {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte{g.Year, g.Month, g.Day, g.Hour, g.Minute, g.Second})
	}
	b = appendVarint(b, 10, uint64(info.ReturnCount))
	b = appendVarint(b, 11, uint64(info.Flags))
	return b
}

func unmarshalInfo(b []byte) (*cepton.SensorInfo, error) {
	info := &cepton.SensorInfo{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var u uint64
		var err error
		switch num {
		case 3:
			info.ModelName = string(v)
			return nil
		case 5:
			info.FirmwareVersion = string(v)
			return nil
		case 9:
			if len(v) != 6 {
				return fmt.Errorf("gps timestamp: %d bytes", len(v))
			}
			info.GPSTimestamp = cepton.GPSTimestamp{Year: v[0], Month: v[1], Day: v[2], Hour: v[3], Minute: v[4], Second: v[5]}
			return nil
		case 1, 2, 4, 6, 7, 8, 10, 11:
		default:
			return nil
		}
		if u, err = scalar(typ, v); err != nil {
			return err
		}
		switch num {
		case 1:
			info.Handle = cepton.SensorHandle(u)
		case 2:
			info.SerialNumber = u
		case 4:
			info.Model = cepton.SensorModel(u)
		case 6:
			info.LastReportedTemperature = math.Float32frombits(uint32(u))
		case 7:
			info.LastReportedHumidity = math.Float32frombits(uint32(u))
		case 8:
			info.LastReportedAge = math.Float32frombits(uint32(u))
		case 10:
			info.ReturnCount = uint8(u)
		case 11:
			info.Flags = cepton.SensorFlags(u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFloat(b []byte, num protowire.Number, f float32) []byte {
	if math.Float32bits(f) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(f))
}

// walk calls fn for every field in b. For varint and fixed fields v holds the
// raw encoded value; for length-delimited fields it holds the payload.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var v []byte
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				v = b[:n]
			}
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

// scalar decodes a varint, fixed32 or fixed64 field value.
func scalar(typ protowire.Type, v []byte) (uint64, error) {
	var u uint64
	var n int
	switch typ {
	case protowire.VarintType:
		u, n = protowire.ConsumeVarint(v)
	case protowire.Fixed32Type:
		var u32 uint32
		u32, n = protowire.ConsumeFixed32(v)
		u = uint64(u32)
	case protowire.Fixed64Type:
		u, n = protowire.ConsumeFixed64(v)
	default:
		return 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return u, nil
}

func packedVarints(dst []uint64, typ protowire.Type, v []byte) ([]uint64, error) {
	if typ != protowire.BytesType {
		u, err := scalar(typ, v)
		return append(dst, u), err
	}
	for len(v) > 0 {
		u, n := protowire.ConsumeVarint(v)
		if n < 0 {
			return dst, protowire.ParseError(n)
		}
		dst = append(dst, u)
		v = v[n:]
	}
	return dst, nil
}

func packedFloats(dst []float32, typ protowire.Type, v []byte) ([]float32, error) {
	if typ != protowire.BytesType {
		u, err := scalar(typ, v)
		return append(dst, math.Float32frombits(uint32(u))), err
	}
	for len(v) > 0 {
		u, n := protowire.ConsumeFixed32(v)
		if n < 0 {
			return dst, protowire.ParseError(n)
		}
		dst = append(dst, math.Float32frombits(u))
		v = v[n:]
	}
	return dst, nil
}
