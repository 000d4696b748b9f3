package modeladapters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"voice-order-eval-platform/backend/internal/datastore"
)

// ParsedOrder is the decoded form of a model's structured order response.
type ParsedOrder struct {
	Transcription string
	AIResponse    string
	Cart          []datastore.CartItem
}

// structuredOrder mirrors the JSON schema every adapter instructs its model
// to emit: {"transcription", "ai_response", "order": [{"id","quantity","unit"}]}.
type structuredOrder struct {
	Transcription string                `json:"transcription"`
	AIResponse    string                `json:"ai_response"`
	Order         []structuredOrderItem `json:"order"`
}

type structuredOrderItem struct {
	ID       flexString `json:"id"`
	Quantity flexInt    `json:"quantity"`
	Unit     string     `json:"unit"`
}

// flexString accepts both "2" and 2; models drift on the id type despite the
// schema saying string.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", string(b))
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts 3, 3.0, and "3".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			*f = flexInt(v)
			return nil
		}
		v, err := n.Float64()
		if err != nil {
			return fmt.Errorf("quantity is not numeric: %s", string(b))
		}
		*f = flexInt(int(v))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("quantity is neither number nor string: %s", string(b))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("quantity %q is not an integer", s)
	}
	*f = flexInt(v)
	return nil
}

// ParseOrderResponse decodes a model's order output. Structured-output modes
// normally return bare JSON, but models occasionally wrap it in markdown
// fences or leading prose, so parsing falls back to the outermost JSON
// object found in the text.
func ParseOrderResponse(raw string) (*ParsedOrder, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("empty model response")
	}

	candidates := []string{text}
	if stripped := stripMarkdownFences(text); stripped != text {
		candidates = append(candidates, stripped)
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	var lastErr error
	for _, candidate := range candidates {
		var parsed structuredOrder
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			lastErr = err
			continue
		}
		return &ParsedOrder{
			Transcription: parsed.Transcription,
			AIResponse:    parsed.AIResponse,
			Cart:          orderToCart(parsed.Order),
		}, nil
	}
	return nil, fmt.Errorf("failed to parse order response: %w", lastErr)
}

// orderToCart converts schema order items into cart items. The display name
// falls back to "Product {id}" since models only return ids.
func orderToCart(order []structuredOrderItem) []datastore.CartItem {
	cart := make([]datastore.CartItem, 0, len(order))
	for _, item := range order {
		unit := item.Unit
		if unit == "" {
			unit = "KOYTA"
		}
		cart = append(cart, datastore.CartItem{
			ProductID:   string(item.ID),
			ProductName: fmt.Sprintf("Product %s", string(item.ID)),
			Quantity:    int(item.Quantity),
			Unit:        unit,
		})
	}
	return cart
}

func stripMarkdownFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
