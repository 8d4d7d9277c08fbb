package protocol

import (
	"errors"
	"strings"
)

// Frame errors. The message of each is the notice returned to the sender.
var (
	ErrBlankMessage  = errors.New(NoticeBlankMessage)
	ErrInvalidFrame  = errors.New(NoticeBadFrame)
	ErrBlankUsername = errors.New(NoticeBlankUsername)
)

// Frame is one decoded datagram.
type Frame struct {
	User    string
	Payload string
}

// ParseFrame decodes "<user>:<payload>". Both halves are trimmed and must be
// non-empty; only the first ':' separates them.
func ParseFrame(data []byte) (Frame, error) {
	msg := strings.TrimSpace(strings.ToValidUTF8(string(data), ""))
	if msg == "" {
		return Frame{}, ErrBlankMessage
	}

	user, payload, found := strings.Cut(msg, ":")
	if !found {
		return Frame{}, ErrInvalidFrame
	}
	user = strings.TrimSpace(user)
	payload = strings.TrimSpace(payload)
	if user == "" {
		return Frame{}, ErrBlankUsername
	}
	if payload == "" {
		return Frame{}, ErrBlankMessage
	}
	return Frame{User: user, Payload: payload}, nil
}

// Encode serializes the frame for sending.
func (f Frame) Encode() []byte {
	return []byte(f.User + ":" + f.Payload)
}
