package protocol

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestSource_OtherIsInvolution(t *testing.T) {
	for _, s := range []Source{SourcePlain, SourceProcessed} {
		if got := s.Other().Other(); got != s {
			t.Errorf("Other(Other(%v)) = %v", s, got)
		}
		if s.Other() == s {
			t.Errorf("Other(%v) returned itself", s)
		}
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		in      string
		want    Source
		wantErr bool
	}{
		{"PLAIN", SourcePlain, false},
		{"processed", SourceProcessed, false},
		{" Plain ", SourcePlain, false},
		{"raw", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSource(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseSource(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseSource(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFrame_Body(t *testing.T) {
	in := Frame{Image: []byte{0xff, 0xd8, 0x01}, Compression: CompressionDeflate}
	b, err := in.MarshalBody()
	if err != nil {
		t.Fatalf("MarshalBody: %v", err)
	}
	var out Frame
	if err := out.UnmarshalBody(b); err != nil {
		t.Fatalf("UnmarshalBody: %v", err)
	}
	if string(out.Image) != string(in.Image) || out.Compression != in.Compression {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestFrame_SkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, frameImageField, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("img"))

	var f Frame
	if err := f.UnmarshalBody(b); err != nil {
		t.Fatalf("UnmarshalBody: %v", err)
	}
	if string(f.Image) != "img" {
		t.Fatalf("Image = %q", f.Image)
	}
}

func TestUnpack_MalformedBodyIsProtocolError(t *testing.T) {
	// Bytes field claiming 100 bytes with 1 present.
	body := []byte{byte(frameImageField<<3) | byte(protowire.BytesType), 100, 'x'}
	m := TypedMessage{TypeURL: TypeFrame, Body: body}

	var f Frame
	if err := m.Unpack(&f); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestUnpack_TypeMismatch(t *testing.T) {
	m := TypedMessage{TypeURL: TypeSignal}
	var f Frame
	if err := m.Unpack(&f); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestSelectSource_RejectsUnknownSource(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, selectSourceField, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	var s SelectSource
	if err := s.UnmarshalBody(b); err == nil {
		t.Fatal("expected error for source 7")
	}
	if _, err := (&SelectSource{Source: 7}).MarshalBody(); err == nil {
		t.Fatal("expected marshal error for source 7")
	}
}

func TestKnown(t *testing.T) {
	for _, u := range []string{TypeFrame, TypeSelectSource, TypeSignal} {
		if !Known(u) {
			t.Errorf("Known(%q) = false", u)
		}
	}
	if Known("type.googleapis.com/vision.Telemetry") {
		t.Error("unexpected known type")
	}
}
