package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// Envelope payload schema shared with the device:
//
//	message Packet { google.protobuf.Any message = 1; }
//
// The 4-byte big-endian length prefix counts the serialized Packet bytes.
const packetMessageField protowire.Number = 1

var marshalOpts = proto.MarshalOptions{Deterministic: true}

// Encode serializes body and returns the complete envelope, length prefix included.
func Encode(body Body) ([]byte, error) {
	value, err := body.MarshalBody()
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", shortType(body.TypeURL()), err)
	}
	return EncodeTyped(TypedMessage{TypeURL: body.TypeURL(), Body: value})
}

// EncodeTyped wraps an already-serialized body. Used to relay messages unchanged.
func EncodeTyped(m TypedMessage) ([]byte, error) {
	if m.TypeURL == "" {
		return nil, fmt.Errorf("protocol: empty type url")
	}
	anyBytes, err := marshalOpts.Marshal(&anypb.Any{TypeUrl: m.TypeURL, Value: m.Body})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal any: %w", err)
	}

	size := protowire.SizeTag(packetMessageField) + protowire.SizeBytes(len(anyBytes))
	if uint64(size) > uint64(^uint32(0)) {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, HeaderSize, HeaderSize+size)
	binary.BigEndian.PutUint32(out, uint32(size))
	out = protowire.AppendTag(out, packetMessageField, protowire.BytesType)
	out = protowire.AppendBytes(out, anyBytes)
	return out, nil
}

// Decode reads exactly one envelope from r. Multiple underlying reads may be
// needed to fill the declared length. A stream that ends mid-envelope is ErrFraming;
// a clean io.EOF before the first length byte is returned unchanged.
func Decode(r io.Reader) (TypedMessage, error) {
	return DecodeMax(r, DefaultMaxFrameSize)
}

// DecodeMax is Decode with an explicit payload limit.
func DecodeMax(r io.Reader, maxPayload int) (TypedMessage, error) {
	payload, err := readFrameMax(r, maxPayload)
	if err != nil {
		return TypedMessage{}, err
	}
	return DecodePayload(payload)
}

// DecodePayload parses the bytes that follow a length prefix.
// Unknown type URLs are legal here; filtering them is the consumer's job.
func DecodePayload(payload []byte) (TypedMessage, error) {
	var (
		anyBytes []byte
		found    bool
	)
	err := consumeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != packetMessageField || typ != protowire.BytesType {
			return 0, errUnknownField
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		anyBytes, found = v, true
		return n, nil
	})
	if err != nil {
		return TypedMessage{}, fmt.Errorf("%w: malformed packet: %w", ErrFraming, err)
	}
	if !found {
		return TypedMessage{}, fmt.Errorf("%w: packet without message", ErrFraming)
	}

	var a anypb.Any
	if err := proto.Unmarshal(anyBytes, &a); err != nil {
		return TypedMessage{}, fmt.Errorf("%w: malformed any: %w", ErrFraming, err)
	}
	if a.GetTypeUrl() == "" {
		return TypedMessage{}, fmt.Errorf("%w: message without type url", ErrFraming)
	}
	return TypedMessage{TypeURL: a.GetTypeUrl(), Body: a.GetValue()}, nil
}
