package protocol

import "strings"

// Kind tags a parsed Command.
type Kind int

const (
	KindBlank Kind = iota
	KindLeave
	KindListUsers
	KindTestPing
	KindJoin
	KindPrivate
	KindPublic
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindLeave:
		return "leave"
	case KindListUsers:
		return "list_users"
	case KindTestPing:
		return "test_ping"
	case KindJoin:
		return "join"
	case KindPrivate:
		return "private"
	case KindPublic:
		return "public"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Dialect selects the transport-specific commands the parser accepts.
type Dialect int

const (
	DialectStream   Dialect = iota // accepts /test
	DialectDatagram                // accepts joined
	DialectConsole                 // server operator; accepts /test
)

// Command is the tagged result of parsing one line. Target is set for
// KindPrivate and KindTestPing, Body for KindPrivate and KindPublic and Hint
// for KindMalformed.
type Command struct {
	Kind   Kind
	Target string
	Body   string
	Hint   string
}

// Parse turns one raw line into a Command. Rules are checked in order and the
// first match wins.
func Parse(line string, d Dialect) Command {
	msg := strings.TrimSpace(line)

	switch {
	case msg == "":
		return Command{Kind: KindBlank}
	case strings.EqualFold(msg, "exit"):
		return Command{Kind: KindLeave}
	case msg == "/who":
		return Command{Kind: KindListUsers}
	}

	if d != DialectDatagram && strings.HasPrefix(msg, "/test ") {
		if target := strings.TrimSpace(msg[len("/test "):]); target != "" {
			return Command{Kind: KindTestPing, Target: target}
		}
	}

	if d == DialectDatagram && strings.EqualFold(msg, "joined") {
		return Command{Kind: KindJoin}
	}

	if strings.HasPrefix(msg, "@") {
		return parsePrivate(msg)
	}

	return Command{Kind: KindPublic, Body: msg}
}

func parsePrivate(msg string) Command {
	malformed := Command{Kind: KindMalformed, Hint: NoticeUsage}

	head, rest, found := strings.Cut(msg, " ")
	target := head[1:]
	if !found || target == "" {
		return malformed
	}
	body := strings.TrimSpace(rest)
	if body == "" {
		return malformed
	}
	return Command{Kind: KindPrivate, Target: target, Body: body}
}
