// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipwire

import "strings"

// ReplyKind classifies firmware reply tokens.
type ReplyKind int

const (
	ReplyOk ReplyKind = iota
	ReplyFalse
	ReplyTrue
	ReplyValue
)

// String returns the string representation of ReplyKind.
func (k ReplyKind) String() string {
	switch k {
	case ReplyOk:
		return "ok"
	case ReplyFalse:
		return "false"
	case ReplyTrue:
		return "true"
	case ReplyValue:
		return "value"
	default:
		return "unknown"
	}
}

// Reply is a decoded firmware reply token: {tag_ok}, {tag_false},
// {tag_true}, {tag_value} or the generic {ok}.
type Reply struct {
	Tag   string // empty for generic {ok}
	Kind  ReplyKind
	Value string // set only for ReplyValue
	Raw   string
}

// Ok reports whether the reply is affirmative.
func (r *Reply) Ok() bool {
	return r.Kind == ReplyOk || r.Kind == ReplyTrue
}

// ParseReply attempts to decode a line as a reply token. It returns false
// for anything that is not token-shaped: JSON objects, stats lines and the
// diagnostics snapshot all contain characters a token never has.
func ParseReply(line string) (*Reply, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 3 || line[0] != '{' || line[len(line)-1] != '}' {
		return nil, false
	}

	body := line[1 : len(line)-1]
	// Tokens are bare words joined by underscores. Anything with JSON or
	// stats syntax is not a reply.
	if strings.ContainsAny(body, `:,"{} `) {
		return nil, false
	}

	if body == "ok" {
		return &Reply{Kind: ReplyOk, Raw: line}, true
	}

	idx := strings.LastIndex(body, "_")
	if idx > 0 {
		tag, suffix := body[:idx], body[idx+1:]
		switch suffix {
		case "ok":
			return &Reply{Tag: tag, Kind: ReplyOk, Raw: line}, true
		case "false":
			return &Reply{Tag: tag, Kind: ReplyFalse, Raw: line}, true
		case "true":
			return &Reply{Tag: tag, Kind: ReplyTrue, Raw: line}, true
		}
	}

	// {tag_value}: tag before the first underscore, value after it.
	if idx = strings.Index(body, "_"); idx > 0 {
		return &Reply{Tag: body[:idx], Kind: ReplyValue, Value: body[idx+1:], Raw: line}, true
	}

	return nil, false
}
