package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ErrNotMessage is returned by the protobuf codec for values that are not
// usable proto.Message instances, including typed nil pointers.
var ErrNotMessage = errors.New("protobuf: not a proto.Message")

// protoCodec writes the binary wire format. Encoding is deterministic so
// equal messages give equal payloads; unknown fields are dropped on decode.
type protoCodec struct {
	enc proto.MarshalOptions
	dec proto.UnmarshalOptions
}

// Proto returns the Protocol Buffers codec. Items must be generated message
// types, usually as pointers (Decode allocates them).
func Proto() Codec {
	return protoCodec{
		enc: proto.MarshalOptions{Deterministic: true},
		dec: proto.UnmarshalOptions{DiscardUnknown: true},
	}
}

func (protoCodec) ContentType() string { return ContentProto }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	msg, err := asMessage(v, "value")
	if err != nil {
		return nil, err
	}
	return p.enc.MarshalAppend(make([]byte, 0, p.enc.Size(msg)), msg)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	msg, err := asMessage(v, "target")
	if err != nil {
		return err
	}
	if err := p.dec.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("protobuf: decode %T: %w", v, err)
	}
	return nil
}

func asMessage(v any, role string) (proto.Message, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %s of type %T", ErrNotMessage, role, v)
	}
	if !msg.ProtoReflect().IsValid() {
		return nil, fmt.Errorf("%w: nil %s %T", ErrNotMessage, role, v)
	}
	return msg, nil
}
