package model

import "time"

// TargetAll is the display target of public broadcasts.
const TargetAll = "All"

// SystemSender is the display sender of join/leave notices.
const SystemSender = "System"

// DisplayMessage is one rendered chat line. It is built per routing call and
// never stored.
type DisplayMessage struct {
	Timestamp time.Time
	Sender    string
	Target    string
	Body      string
	Private   bool
}

// NewPublic builds a broadcast message addressed to everyone.
func NewPublic(at time.Time, sender, body string) DisplayMessage {
	return DisplayMessage{Timestamp: at, Sender: sender, Target: TargetAll, Body: body}
}

// NewPrivate builds a message tagged private between sender and target.
func NewPrivate(at time.Time, sender, target, body string) DisplayMessage {
	return DisplayMessage{Timestamp: at, Sender: sender, Target: target, Body: body, Private: true}
}

// NewNotice builds a system broadcast such as "alice joined the chat.".
func NewNotice(at time.Time, body string) DisplayMessage {
	return NewPublic(at, SystemSender, body)
}
