package conversation

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/odvcencio/taskchat/pkg/token"
)

// Surface is an interactive payload attached to an assistant message.
// Only the type is interpreted; the rest is carried opaquely.
type Surface struct {
	ID    string          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Title string          `json:"title,omitempty"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// Embed is a reference token found in message content.
type Embed struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
	Raw   string `json:"raw"`
}

// DecodeSurfaces tolerantly decodes a surfaces field. It accepts a JSON
// array, a single object, or a string holding either. Entries without a
// type are dropped. A nil result means no usable surfaces.
func DecodeSurfaces(raw json.RawMessage) []Surface {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	switch raw[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil
		}
		return DecodeSurfaces(json.RawMessage(inner))
	case '{':
		raw = append(append([]byte{'['}, raw...), ']')
	case '[':
	default:
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	var surfaces []Surface
	for _, item := range items {
		var head struct {
			ID    any    `json:"id"`
			Type  string `json:"type"`
			Title string `json:"title"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			continue
		}
		if strings.TrimSpace(head.Type) == "" {
			continue
		}
		surfaces = append(surfaces, Surface{
			ID:    idString(head.ID),
			Type:  head.Type,
			Title: head.Title,
			Raw:   append(json.RawMessage(nil), item...),
		})
	}
	return surfaces
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		b, _ := json.Marshal(id)
		return string(b)
	default:
		return ""
	}
}

// EmbedsFromContent derives embeds from the ref tokens in content.
func EmbedsFromContent(content string) []Embed {
	var embeds []Embed
	for _, tok := range token.Decode(content) {
		if tok.Kind != token.KindRef {
			continue
		}
		embeds = append(embeds, Embed{
			Type:  tok.Type(),
			ID:    tok.Data["id"],
			Label: tok.Label,
			Raw:   tok.Raw,
		})
	}
	return embeds
}
