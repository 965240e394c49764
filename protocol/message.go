package protocol

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrProtocol reports an envelope whose body does not match its declared type.
// Only the offending message is lost; the connection stays up.
var ErrProtocol = errors.New("protocol: body does not match declared type")

// typeURLPrefix matches what google.protobuf.Any produces for the device's schema.
const typeURLPrefix = "type.googleapis.com/vision."

// Type URLs of every message kind the device protocol defines.
const (
	TypeFrame        = typeURLPrefix + "Frame"
	TypeSelectSource = typeURLPrefix + "SetFrameType"
	TypeSignal       = typeURLPrefix + "Signal"
)

// Known reports whether typeURL names a message kind this client understands.
func Known(typeURL string) bool {
	switch typeURL {
	case TypeFrame, TypeSelectSource, TypeSignal:
		return true
	}
	return false
}

// Body is a message kind that can travel inside an envelope.
type Body interface {
	TypeURL() string
	MarshalBody() ([]byte, error)
	UnmarshalBody(b []byte) error
}

// TypedMessage is a decoded envelope: a type tag plus the still-serialized body.
type TypedMessage struct {
	TypeURL string
	Body    []byte
}

// Is reports whether the message carries the given type URL.
func (m TypedMessage) Is(typeURL string) bool { return m.TypeURL == typeURL }

// Unpack decodes the body into dst. A tag mismatch or a malformed body is ErrProtocol.
func (m TypedMessage) Unpack(dst Body) error {
	if m.TypeURL != dst.TypeURL() {
		return fmt.Errorf("%w: have %s, want %s", ErrProtocol, m.TypeURL, dst.TypeURL())
	}
	if err := dst.UnmarshalBody(m.Body); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProtocol, shortType(m.TypeURL), err)
	}
	return nil
}

func shortType(typeURL string) string {
	if i := strings.LastIndexByte(typeURL, '/'); i >= 0 {
		return typeURL[i+1:]
	}
	return typeURL
}

// ---------------------------------------------------------------------------
// Source
// ---------------------------------------------------------------------------

// Source selects which video feed variant the device streams.
type Source int32

const (
	SourcePlain     Source = 0
	SourceProcessed Source = 1
)

// Other returns the opposite source. Other(Other(s)) == s.
func (s Source) Other() Source {
	switch s {
	case SourcePlain:
		return SourceProcessed
	case SourceProcessed:
		return SourcePlain
	default:
		panic(fmt.Sprintf("protocol: invalid source %d", int32(s)))
	}
}

func (s Source) String() string {
	switch s {
	case SourcePlain:
		return "PLAIN"
	case SourceProcessed:
		return "PROCESSED"
	default:
		return fmt.Sprintf("Source(%d)", int32(s))
	}
}

// Valid reports whether s is one of the defined sources.
func (s Source) Valid() bool { return s == SourcePlain || s == SourceProcessed }

// ParseSource accepts the names produced by String, case-insensitively.
func ParseSource(name string) (Source, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "PLAIN":
		return SourcePlain, nil
	case "PROCESSED":
		return SourceProcessed, nil
	}
	return 0, fmt.Errorf("protocol: unknown source %q", name)
}

// ---------------------------------------------------------------------------
// Frame
// ---------------------------------------------------------------------------

// Compression is how Frame.Image is packed on the wire.
type Compression int32

const (
	CompressionNone    Compression = 0
	CompressionDeflate Compression = 1
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "NONE"
	case CompressionDeflate:
		return "DEFLATE"
	default:
		return fmt.Sprintf("Compression(%d)", int32(c))
	}
}

// Frame is one compressed still image of the video stream.
//
// Wire schema:
//
//	bytes       image       = 1;
//	Compression compression = 2;
type Frame struct {
	Image       []byte
	Compression Compression
}

const (
	frameImageField       protowire.Number = 1
	frameCompressionField protowire.Number = 2
)

func (*Frame) TypeURL() string { return TypeFrame }

func (f *Frame) MarshalBody() ([]byte, error) {
	b := make([]byte, 0, len(f.Image)+16)
	if len(f.Image) > 0 {
		b = protowire.AppendTag(b, frameImageField, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Image)
	}
	if f.Compression != CompressionNone {
		b = protowire.AppendTag(b, frameCompressionField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Compression))
	}
	return b, nil
}

func (f *Frame) UnmarshalBody(b []byte) error {
	*f = Frame{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == frameImageField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			f.Image = append([]byte(nil), v...)
			return n, nil
		case num == frameCompressionField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, nil
			}
			c := Compression(int32(v))
			if c != CompressionNone && c != CompressionDeflate {
				return 0, fmt.Errorf("unknown compression %d", int32(v))
			}
			f.Compression = c
			return n, nil
		}
		return 0, errUnknownField
	})
}

// ---------------------------------------------------------------------------
// SelectSource
// ---------------------------------------------------------------------------

// SelectSource asks the device to switch the streamed feed.
//
// Wire schema:
//
//	Source type = 1;
type SelectSource struct {
	Source Source
}

const selectSourceField protowire.Number = 1

func (*SelectSource) TypeURL() string { return TypeSelectSource }

func (s *SelectSource) MarshalBody() ([]byte, error) {
	if !s.Source.Valid() {
		return nil, fmt.Errorf("protocol: invalid source %d", int32(s.Source))
	}
	var b []byte
	if s.Source != SourcePlain {
		b = protowire.AppendTag(b, selectSourceField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Source))
	}
	return b, nil
}

func (s *SelectSource) UnmarshalBody(b []byte) error {
	*s = SelectSource{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != selectSourceField || typ != protowire.VarintType {
			return 0, errUnknownField
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return n, nil
		}
		src := Source(int32(v))
		if !src.Valid() {
			return 0, fmt.Errorf("unknown source %d", int32(v))
		}
		s.Source = src
		return n, nil
	})
}

// ---------------------------------------------------------------------------
// Signal
// ---------------------------------------------------------------------------

// SignalKind enumerates operator signals forwarded to the device.
type SignalKind int32

const (
	SignalSwitchFeed SignalKind = 0
)

func (k SignalKind) String() string {
	if k == SignalSwitchFeed {
		return "SWITCH_FEED"
	}
	return fmt.Sprintf("SignalKind(%d)", int32(k))
}

// Signal is a fire-and-forget control command.
//
// Wire schema:
//
//	SignalKind type = 1;
type Signal struct {
	Kind SignalKind
}

const signalKindField protowire.Number = 1

func (*Signal) TypeURL() string { return TypeSignal }

func (s *Signal) MarshalBody() ([]byte, error) {
	var b []byte
	if s.Kind != SignalSwitchFeed {
		b = protowire.AppendTag(b, signalKindField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Kind))
	}
	return b, nil
}

func (s *Signal) UnmarshalBody(b []byte) error {
	*s = Signal{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != signalKindField || typ != protowire.VarintType {
			return 0, errUnknownField
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return n, nil
		}
		s.Kind = SignalKind(int32(v))
		return n, nil
	})
}

// errUnknownField tells consumeFields to skip a field it has no handler for.
var errUnknownField = errors.New("protocol: unknown field")

// consumeFields walks a protobuf-encoded message. field returns the number of
// bytes it consumed for a recognised field, errUnknownField to skip the field,
// or an error. A negative protowire length is reported as a malformed body.
func consumeFields(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := field(num, typ, b)
		if errors.Is(err, errUnknownField) {
			m, err = protowire.ConsumeFieldValue(num, typ, b), nil
		}
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}
