package endpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Endpoint
		wantErr bool
	}{
		{"10.58.18.2:5800", Endpoint{Host: "10.58.18.2", Port: 5800}, false},
		{" roborio.local:1180\n", Endpoint{Host: "roborio.local", Port: 1180}, false},
		{"[::1]:80", Endpoint{Host: "::1", Port: 80}, false},
		{"host", Endpoint{}, true},
		{":80", Endpoint{}, true},
		{"host:0", Endpoint{}, true},
		{"host:70000", Endpoint{}, true},
		{"host:abc", Endpoint{}, true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("Parse(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidEndpoint) {
			t.Errorf("Parse(%q) err = %v, want ErrInvalidEndpoint", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestEndpoint_Inert(t *testing.T) {
	if !(Endpoint{}).Inert() {
		t.Error("zero endpoint should be inert")
	}
	if !(Endpoint{Host: "h"}).Inert() {
		t.Error("endpoint without port should be inert")
	}
	if !(Endpoint{Port: 1}).Inert() {
		t.Error("endpoint without host should be inert")
	}
	if (Endpoint{Host: "h", Port: 1}).Inert() {
		t.Error("complete endpoint should not be inert")
	}
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	s := NewStore(path)

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if !got.Inert() {
		t.Fatalf("missing file should load inert endpoint, got %v", got)
	}

	want := Endpoint{Host: "10.58.18.2", Port: 5800}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("Load = %v, want %v", got, want)
	}
}

func TestStore_SaveRejectsInert(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "addr"))
	if err := s.Save(Endpoint{}); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("Save(inert) = %v, want ErrInvalidEndpoint", err)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addr")
	if err := os.WriteFile(path, []byte("not-an-address"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path).Load(); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("Load = %v, want ErrInvalidEndpoint", err)
	}
}
