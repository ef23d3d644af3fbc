package grpcstream

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/publish/wire"
)

// CodecName is the gRPC content subtype used by the stream.
const CodecName = "cepton-wire"

func init() {
	encoding.RegisterCodec(codec{})
}

// SubscribeRequest selects topics. No topics means every topic.
//
//	message SubscribeRequest { repeated string topics = 1; }
type SubscribeRequest struct {
	Topics []string
}

type codec struct{}

func (codec) Name() string { return CodecName }

func (codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *publish.Message:
		return wire.Marshal(*m), nil
	case *SubscribeRequest:
		var b []byte
		for _, t := range m.Topics {
			b = protowire.AppendTag(b, 1, protowire.BytesType)
			b = protowire.AppendString(b, t)
		}
		return b, nil
	}
	return nil, fmt.Errorf("grpcstream: cannot marshal %T", v)
}

func (codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *publish.Message:
		msg, err := wire.Unmarshal(data)
		if err != nil {
			return err
		}
		*m = msg
		return nil
	case *SubscribeRequest:
		m.Topics = nil
		for len(data) > 0 {
			num, typ, n := protowire.ConsumeTag(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if num == 1 && typ == protowire.BytesType {
				var s string
				s, n = protowire.ConsumeString(data)
				if n >= 0 {
					m.Topics = append(m.Topics, s)
				}
			} else {
				n = protowire.ConsumeFieldValue(num, typ, data)
			}
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
		return nil
	}
	return fmt.Errorf("grpcstream: cannot unmarshal into %T", v)
}
