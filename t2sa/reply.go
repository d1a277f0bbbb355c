package t2sa

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ReplyKind classifies a reply line.
type ReplyKind int

const (
	// ReplyAck is an "ACK-nnn body" success reply.
	ReplyAck ReplyKind = iota + 1
	// ReplyErr is an "ERR-nnn body" failure reply.
	ReplyErr
	// ReplyStatus is a bare status token, only sent in answer to ?STAT.
	ReplyStatus
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyAck:
		return "ACK"
	case ReplyErr:
		return "ERR"
	case ReplyStatus:
		return "STATUS"
	default:
		return "INVALID"
	}
}

// Reply is one classified reply line.
type Reply struct {
	Kind ReplyKind
	// Code is the three digit code; zero for bare status replies.
	Code ErrorCode
	// Body is the text after the code, or the status token itself.
	Body string
}

var replyRegex = regexp.MustCompile(`^(ACK|ERR)-(\d{3})(?::? +(.*))?$`)

// ParseReply classifies a reply line with its line terminator already removed.
func ParseReply(line string) (Reply, error) {
	line = strings.TrimRight(line, "\r\n")

	if m := replyRegex.FindStringSubmatch(line); m != nil {
		code, _ := strconv.Atoi(m[2])
		kind := ReplyAck
		if m[1] == "ERR" {
			kind = ReplyErr
		}

		return Reply{Kind: kind, Code: ErrorCode(code), Body: m[3]}, nil
	}

	if isStatusToken(strings.TrimSpace(line)) {
		return Reply{Kind: ReplyStatus, Body: strings.TrimSpace(line)}, nil
	}

	return Reply{}, &ParseError{Grammar: "reply", Input: line, Reason: "not an ACK, ERR or status reply"}
}

// String renders the reply in wire form, without the line terminator.
func (r Reply) String() string {
	switch r.Kind {
	case ReplyAck:
		return fmt.Sprintf("ACK-%03d %s", int(r.Code), r.Body)
	case ReplyErr:
		return fmt.Sprintf("ERR-%03d %s", int(r.Code), r.Body)
	default:
		return r.Body
	}
}

// Ack returns a success reply with code 300.
func Ack(body string) Reply {
	return Reply{Kind: ReplyAck, Code: CodeNoError, Body: body}
}

// Err returns a failure reply with the given code.
func Err(code ErrorCode, body string) Reply {
	return Reply{Kind: ReplyErr, Code: code, Body: body}
}

// Status returns a bare status reply.
func Status(token string) Reply {
	return Reply{Kind: ReplyStatus, Body: token}
}
