package token

import "strings"

// Segment is a run of plain text or a single token.
type Segment struct {
	Text  string
	Token *Token
}

// Segments splits text into plain-text and token segments in order.
func Segments(text string) []Segment {
	tokens := Decode(text)
	if len(tokens) == 0 {
		if text == "" {
			return nil
		}
		return []Segment{{Text: text}}
	}

	segments := make([]Segment, 0, len(tokens)*2+1)
	pos := 0
	for i := range tokens {
		tok := tokens[i]
		if tok.Start > pos {
			segments = append(segments, Segment{Text: text[pos:tok.Start]})
		}
		segments = append(segments, Segment{Text: tok.Raw, Token: &tok})
		pos = tok.End
	}
	if pos < len(text) {
		segments = append(segments, Segment{Text: text[pos:]})
	}
	return segments
}

// Strip replaces every token in text with its label.
func Strip(text string) string {
	var sb strings.Builder
	for _, seg := range Segments(text) {
		if seg.Token != nil {
			sb.WriteString(seg.Token.Label)
			continue
		}
		sb.WriteString(seg.Text)
	}
	return sb.String()
}
