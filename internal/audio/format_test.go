package audio

import (
	"errors"
	"testing"
)

func TestFormatFromMIME(t *testing.T) {
	tests := []struct {
		mime    string
		want    Format
		wantErr bool
	}{
		{"audio/ogg", FormatOGG, false},
		{"audio/mpeg", FormatMP3, false},
		{"audio/x-wav", FormatWAV, false},
		{"video/mp4", FormatMP4, false},
		{"AUDIO/OGG", FormatOGG, false},
		{"audio/ogg; codecs=opus", FormatOGG, false},
		{"image/png", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got, err := FormatFromMIME(tt.mime)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FormatFromMIME failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"ogg", "mp3", "wav", "mp4"} {
		f, err := ParseFormat(name)
		if err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", name, err)
		}
		if f.String() != name {
			t.Errorf("Expected %s, got %s", name, f)
		}
	}

	if _, err := ParseFormat("flac"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat for flac, got %v", err)
	}
}

func TestNewAudio(t *testing.T) {
	a, err := New([]byte{1, 2, 3}, 1.5, FormatMP3)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.IsEmpty() {
		t.Error("Expected non-empty audio")
	}

	empty, err := New(nil, 0, FormatWAV)
	if err != nil {
		t.Fatalf("New failed for empty audio: %v", err)
	}
	if !empty.IsEmpty() {
		t.Error("Expected empty audio")
	}

	if _, err := New([]byte{1}, 1, Format("aac")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}
