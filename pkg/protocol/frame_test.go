package protocol

import (
	"errors"
	"testing"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Frame
		wantErr error
	}{
		{"join", "alice:joined", Frame{User: "alice", Payload: "joined"}, nil},
		{"trimmed", "  alice : hi there \n", Frame{User: "alice", Payload: "hi there"}, nil},
		{"payload keeps colons", "alice:@bob time is 10:30", Frame{User: "alice", Payload: "@bob time is 10:30"}, nil},
		{"empty", "", Frame{}, ErrBlankMessage},
		{"whitespace", " \n ", Frame{}, ErrBlankMessage},
		{"no separator", "hello", Frame{}, ErrInvalidFrame},
		{"blank user", " :hello", Frame{}, ErrBlankUsername},
		{"blank payload", "alice:  ", Frame{}, ErrBlankMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseFrame(%q) error = %v, want %v", tt.data, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFrame(%q) = %+v, want %+v", tt.data, got, tt.want)
			}
		})
	}
}

func TestFrameEncode(t *testing.T) {
	f := Frame{User: "alice", Payload: "/who"}
	if got := string(f.Encode()); got != "alice:/who" {
		t.Errorf("Encode() = %q", got)
	}
}

func TestFrameErrorsAreNotices(t *testing.T) {
	if ErrInvalidFrame.Error() != NoticeBadFrame {
		t.Errorf("ErrInvalidFrame text = %q", ErrInvalidFrame.Error())
	}
}
