// Package token decodes and encodes the inline [ref ...] and [op ...]
// mini-language embedded in chat message text.
package token

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Kind identifies the token family.
type Kind string

const (
	KindRef Kind = "ref"
	KindOp  Kind = "op"
)

// Version is the only token grammar version this package understands.
const Version = "1"

// Token is one decoded inline token. Start and End are byte offsets into
// the decoded text, End exclusive.
type Token struct {
	Raw   string
	Kind  Kind
	Start int
	End   int
	Data  map[string]string
	Label string
}

// Type returns the token's type field.
func (t Token) Type() string {
	return t.Data["type"]
}

// Decode returns every well-formed token in text in order of appearance.
// Malformed tokens, unknown kinds and unsupported versions are skipped.
func Decode(text string) []Token {
	var tokens []Token
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		tok, ok := parseAt(text, i)
		if !ok {
			continue
		}
		tokens = append(tokens, tok)
		i = tok.End - 1
	}
	return tokens
}

// parseAt parses a token starting at the '[' at offset start.
func parseAt(text string, start int) (Token, bool) {
	pos := start + 1
	var kind Kind
	switch {
	case strings.HasPrefix(text[pos:], string(KindRef)):
		kind = KindRef
	case strings.HasPrefix(text[pos:], string(KindOp)):
		kind = KindOp
	default:
		return Token{}, false
	}
	pos += len(kind)
	if pos >= len(text) || (text[pos] != ']' && !isSpace(text[pos])) {
		return Token{}, false
	}

	data := make(map[string]string)
	version := ""
	for {
		pos = skipSpace(text, pos)
		if pos >= len(text) {
			return Token{}, false
		}
		if text[pos] == ']' {
			pos++
			break
		}

		key, next, ok := readKey(text, pos)
		if !ok || next >= len(text) || text[next] != ':' {
			return Token{}, false
		}
		value, after, ok := readValue(text, next+1)
		if !ok {
			return Token{}, false
		}
		if after < len(text) && text[after] != ']' && !isSpace(text[after]) {
			return Token{}, false
		}
		pos = after

		if key == "v" {
			version = value
			continue
		}
		data[key] = value
	}

	if version != "" && version != Version {
		return Token{}, false
	}

	return Token{
		Raw:   text[start:pos],
		Kind:  kind,
		Start: start,
		End:   pos,
		Data:  data,
		Label: Label(kind, data),
	}, true
}

func readKey(text string, pos int) (string, int, bool) {
	end := pos
	for end < len(text) && isKeyByte(text[end], end == pos) {
		end++
	}
	if end == pos {
		return "", pos, false
	}
	return text[pos:end], end, true
}

func readValue(text string, pos int) (string, int, bool) {
	if pos >= len(text) {
		return "", pos, false
	}
	if text[pos] != '"' {
		end := pos
		for end < len(text) && !isSpace(text[end]) && text[end] != ']' {
			switch text[end] {
			case '"', '[', '\\':
				return "", pos, false
			}
			end++
		}
		if end == pos {
			return "", pos, false
		}
		return text[pos:end], end, true
	}

	var sb strings.Builder
	for i := pos + 1; i < len(text); i++ {
		c := text[i]
		switch c {
		case '\\':
			if i+1 < len(text) && (text[i+1] == '"' || text[i+1] == '\\') {
				sb.WriteByte(text[i+1])
				i++
				continue
			}
			sb.WriteByte(c)
		case '"':
			return sb.String(), i + 1, true
		default:
			sb.WriteByte(c)
		}
	}
	return "", pos, false
}

func skipSpace(text string, pos int) int {
	for pos < len(text) && isSpace(text[pos]) {
		pos++
	}
	return pos
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isKeyByte(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9', c == '-':
		return !first
	}
	return false
}

// ValidKey reports whether key can appear in an encoded token.
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		if !isKeyByte(key[i], i == 0) {
			return false
		}
	}
	return true
}

// Encode renders fields as a token of the given kind. The version field is
// always written first as v:1, followed by type and then the remaining keys
// in sorted order. Keys that cannot be decoded are dropped.
func Encode(kind Kind, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "v" || k == "type" || !ValidKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(string(kind))
	sb.WriteString(" v:")
	sb.WriteString(Version)
	if typ, ok := fields["type"]; ok {
		writeField(&sb, "type", typ)
	}
	for _, k := range keys {
		writeField(&sb, k, fields[k])
	}
	sb.WriteByte(']')
	return sb.String()
}

func writeField(sb *strings.Builder, key, value string) {
	sb.WriteByte(' ')
	sb.WriteString(key)
	sb.WriteByte(':')
	if isBare(value) {
		sb.WriteString(value)
		return
	}
	sb.WriteByte('"')
	for _, r := range value {
		if r == '"' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
}

func isBare(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
		switch r {
		case '"', '[', ']', '\\':
			return false
		}
	}
	return true
}

// Label synthesizes the display label for a token.
func Label(kind Kind, data map[string]string) string {
	typ := data["type"]
	switch kind {
	case KindRef:
		if typ == "" {
			typ = string(KindRef)
		}
		return typ + ": " + firstNonEmpty(data["name"], data["id"], "unnamed")
	case KindOp:
		if typ == "" {
			typ = string(KindOp)
		}
		if hint := firstNonEmpty(data["title"], data["status"], data["project"]); hint != "" {
			return typ + " • " + hint
		}
		return typ
	}
	return typ
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Operation is the structured form of an [op ...] token.
type Operation struct {
	Op     string
	Params map[string]any
}

// ToOperation converts the first op token in raw into an Operation. It
// fails when raw holds no op token or the token has no type. Integer
// values are narrowed to int64; everything else stays a string.
func ToOperation(raw string) (Operation, bool) {
	for _, tok := range Decode(raw) {
		if tok.Kind != KindOp {
			continue
		}
		typ := tok.Type()
		if typ == "" {
			return Operation{}, false
		}
		params := make(map[string]any, len(tok.Data))
		for k, v := range tok.Data {
			if k == "type" {
				continue
			}
			params[k] = narrow(v)
		}
		return Operation{Op: typ, Params: params}, true
	}
	return Operation{}, false
}

func narrow(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && strconv.FormatInt(n, 10) == v {
		return n
	}
	return v
}
