package contracts

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "trims", in: "  May Allah grant us peace  ", want: "May Allah grant us peace"},
		{name: "empty", in: "", wantErr: ErrContentRequired},
		{name: "whitespace only", in: " \n\t ", wantErr: ErrContentRequired},
		{name: "exactly max", in: strings.Repeat("a", MaxContentLength), want: strings.Repeat("a", MaxContentLength)},
		{name: "over max", in: strings.Repeat("a", MaxContentLength+1), wantErr: ErrContentTooLong},
		{name: "multibyte counted as characters", in: strings.Repeat("د", MaxContentLength), want: strings.Repeat("د", MaxContentLength)},
		// "e" + combining acute composes into a single character.
		{name: "nfc composes", in: "cafe\u0301", want: "caf\u00e9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeContent(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestChangeEventPrayerID(t *testing.T) {
	if got := (ChangeEvent{New: &Prayer{ID: "a"}}).PrayerID(); got != "a" {
		t.Fatalf("unexpected id from new row: %q", got)
	}
	if got := (ChangeEvent{Old: &Prayer{ID: "b"}}).PrayerID(); got != "b" {
		t.Fatalf("unexpected id from old row: %q", got)
	}
	if got := (ChangeEvent{}).PrayerID(); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
