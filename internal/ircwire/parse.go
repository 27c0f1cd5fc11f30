// Package ircwire implements C6: client-side RFC 1459/2812 line framing,
// the colour-tag rewriter modules use instead of raw mIRC control codes,
// and the flood-limited outbound queue.
package ircwire

import (
	"fmt"
	"strings"
)

// Message is one parsed IRC line.
type Message struct {
	Prefix   string // server or nick!user@host, without the leading ':'
	Command  string // verb or three-digit numeric
	Params   []string
	Trailing string // the last ":"-prefixed parameter, if any
	HasTrail bool
}

// ParseLine parses one IRC protocol line (without the trailing CRLF) into
// a Message. This is a byte-oriented scanner rather than a regular
// expression: the grammar is a fixed sequence of space-delimited tokens
// with one optional trailing free-text field, which a scanner expresses
// more directly and without the cost of compiling a pattern per line.
func ParseLine(line string) (*Message, error) {
	if line == "" {
		return nil, fmt.Errorf("ircwire: empty line")
	}

	msg := &Message{}
	rest := line

	if strings.HasPrefix(rest, ":") {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("ircwire: malformed line, prefix with no command: %q", line)
		}
		msg.Prefix = rest[1:sp]
		rest = strings.TrimLeft(rest[sp+1:], " ")
	}

	if rest == "" {
		return nil, fmt.Errorf("ircwire: malformed line, no command: %q", line)
	}

	if trail := strings.IndexByte(rest, ':'); trail >= 0 && (trail == 0 || rest[trail-1] == ' ') {
		before := strings.TrimRight(rest[:trail], " ")
		msg.Trailing = rest[trail+1:]
		msg.HasTrail = true
		rest = before
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, fmt.Errorf("ircwire: malformed line, no command: %q", line)
	}
	msg.Command = strings.ToUpper(fields[0])
	msg.Params = fields[1:]

	return msg, nil
}

// AllParams returns Params with Trailing appended, if present, matching
// how most callers want to treat "the last field" uniformly.
func (m *Message) AllParams() []string {
	if !m.HasTrail {
		return m.Params
	}
	return append(append([]string{}, m.Params...), m.Trailing)
}

// FormatLine builds a wire line for command and params, treating the
// last param as trailing text (space-containing, ":"-prefixed) whenever
// it contains a space or is empty, matching standard client behavior.
func FormatLine(command string, params ...string) string {
	var b strings.Builder
	b.WriteString(command)
	for i, p := range params {
		last := i == len(params)-1
		if last && (strings.Contains(p, " ") || p == "" || strings.HasPrefix(p, ":")) {
			b.WriteString(" :")
			b.WriteString(p)
		} else {
			b.WriteByte(' ')
			b.WriteString(p)
		}
	}
	return b.String()
}
