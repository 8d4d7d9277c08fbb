// Package protocol defines the OpenChat wire format: newline-terminated UTF-8
// text lines over the stream transport and "username:payload" datagrams.
package protocol

import (
	"strings"

	"github.com/NicolasHaas/openchat/pkg/model"
)

const (
	// StreamPort is the default TCP listen port.
	StreamPort = 13000

	// DatagramPort is the default UDP listen port.
	DatagramPort = 12000

	// BufferSize is the maximum bytes read per receive (one command per chunk).
	BufferSize = 1024

	// TimeLayout renders the "[HH:MM:SS]" prefix of every display line.
	TimeLayout = "15:04:05"

	// TestGreeting is the body sent by "/test <name>".
	TestGreeting = "🔔 Test OK"

	// UsernamePrompt is the first line a stream server sends.
	UsernamePrompt = "Enter your username: "

	// DefaultServerName is the console identity when the operator picks none.
	DefaultServerName = "Server"
)

// System notice texts. Each is wrapped with System before it goes on the wire.
const (
	NoticeBlankMessage  = "Cannot send blank message."
	NoticeInvalidName   = "Invalid username."
	NoticeUsage         = "Usage: @username message"
	NoticeLeft          = "You left the chat."
	NoticeNoUsers       = "(no users)"
	NoticeBadFrame      = "Invalid message format. Use 'username:message'"
	NoticeBlankUsername = "Username cannot be blank."
)

// StreamHelp is sent once to every stream peer after a successful handshake.
const StreamHelp = "\nCommands:\n" +
	"  /who          - List online users\n" +
	"  /test name    - Send test message\n" +
	"  @name msg     - Private message\n" +
	"  exit          - Leave chat\n\n"

// DatagramHelp is printed by the datagram client after its handshake.
func DatagramHelp(serverName string) string {
	if serverName == "" {
		serverName = DefaultServerName
	}
	return "\nCommands:\n" +
		"  /who          - List online users\n" +
		"  @" + serverName + " msg  - Private message to server (use '" + DefaultServerName + "' if unsure)\n" +
		"  @name msg     - Private message to a user\n" +
		"  exit          - Leave chat\n\n"
}

// Format renders a display message as one line:
//
//	[15:04:05] [alice → All] hi
//	[15:04:05] [PRIVATE] [alice → bob] secret
func Format(m model.DisplayMessage) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(m.Timestamp.Format(TimeLayout))
	b.WriteString("] ")
	if m.Private {
		b.WriteString("[PRIVATE] ")
	}
	b.WriteString("[")
	b.WriteString(m.Sender)
	b.WriteString(" → ")
	b.WriteString(m.Target)
	b.WriteString("] ")
	b.WriteString(m.Body)
	return strings.TrimSpace(b.String())
}

// System prefixes a notice addressed to one participant.
func System(text string) string {
	return "[System] " + text
}

// NotFound is the notice for a private message to an unknown user.
func NotFound(target string) string {
	return "User '" + target + "' not found."
}

// SendFailed is the notice for a private message whose delivery failed.
func SendFailed(target string) string {
	return "Failed to send to " + target
}

// NameTaken is the handshake notice for a username already online.
func NameTaken(name string) string {
	return "Username '" + name + "' is already taken."
}

// Online renders the /who answer.
func Online(names []string) string {
	if len(names) == 0 {
		return "Online: " + NoticeNoUsers
	}
	return "Online: " + strings.Join(names, ", ")
}

// EncodeLine terminates s with a newline for the wire.
func EncodeLine(s string) []byte {
	if strings.HasSuffix(s, "\n") {
		return []byte(s)
	}
	return []byte(s + "\n")
}
