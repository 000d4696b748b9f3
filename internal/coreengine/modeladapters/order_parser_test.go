package modeladapters

import (
	"strings"
	"testing"
)

func TestParseOrderResponseStrictJSON(t *testing.T) {
	raw := `{"transcription": "Θα ήθελα δύο κιβώτια Coca-Cola",
		"ai_response": "Προστέθηκαν δύο κιβώτια.",
		"order": [{"id": "1015", "quantity": 2, "unit": "KOYTA"}]}`

	parsed, err := ParseOrderResponse(raw)
	if err != nil {
		t.Fatalf("ParseOrderResponse failed: %v", err)
	}
	if parsed.Transcription != "Θα ήθελα δύο κιβώτια Coca-Cola" {
		t.Errorf("unexpected transcription: %q", parsed.Transcription)
	}
	if parsed.AIResponse != "Προστέθηκαν δύο κιβώτια." {
		t.Errorf("unexpected ai_response: %q", parsed.AIResponse)
	}
	if len(parsed.Cart) != 1 {
		t.Fatalf("expected 1 cart item, got %d", len(parsed.Cart))
	}
	item := parsed.Cart[0]
	if item.ProductID != "1015" || item.Quantity != 2 || item.Unit != "KOYTA" {
		t.Errorf("unexpected cart item: %+v", item)
	}
	if item.ProductName != "Product 1015" {
		t.Errorf("expected fallback product name, got %q", item.ProductName)
	}
}

func TestParseOrderResponseMarkdownFenced(t *testing.T) {
	raw := "```json\n" +
		`{"transcription": "ok", "ai_response": "done", "order": []}` +
		"\n```"

	parsed, err := ParseOrderResponse(raw)
	if err != nil {
		t.Fatalf("ParseOrderResponse failed on fenced JSON: %v", err)
	}
	if parsed.AIResponse != "done" {
		t.Errorf("unexpected ai_response: %q", parsed.AIResponse)
	}
	if len(parsed.Cart) != 0 {
		t.Errorf("expected empty cart, got %d items", len(parsed.Cart))
	}
}

func TestParseOrderResponseProseWrapped(t *testing.T) {
	raw := `Here is the order you asked for:
{"transcription": "ένα νερό", "ai_response": "έγινε", "order": [{"id": "77", "quantity": 1, "unit": "CAN"}]}
Let me know if you need anything else.`

	parsed, err := ParseOrderResponse(raw)
	if err != nil {
		t.Fatalf("ParseOrderResponse failed on prose-wrapped JSON: %v", err)
	}
	if len(parsed.Cart) != 1 || parsed.Cart[0].ProductID != "77" {
		t.Errorf("unexpected cart: %+v", parsed.Cart)
	}
}

func TestParseOrderResponseFlexibleFieldTypes(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantID       string
		wantQuantity int
		wantUnit     string
	}{
		{
			name:         "numeric id",
			raw:          `{"transcription":"t","ai_response":"a","order":[{"id": 1015, "quantity": 2, "unit": "KOYTA"}]}`,
			wantID:       "1015",
			wantQuantity: 2,
			wantUnit:     "KOYTA",
		},
		{
			name:         "string quantity",
			raw:          `{"transcription":"t","ai_response":"a","order":[{"id": "3", "quantity": "4", "unit": "CAN"}]}`,
			wantID:       "3",
			wantQuantity: 4,
			wantUnit:     "CAN",
		},
		{
			name:         "float quantity",
			raw:          `{"transcription":"t","ai_response":"a","order":[{"id": "3", "quantity": 4.0, "unit": "CAN"}]}`,
			wantID:       "3",
			wantQuantity: 4,
			wantUnit:     "CAN",
		},
		{
			name:         "missing unit defaults",
			raw:          `{"transcription":"t","ai_response":"a","order":[{"id": "9", "quantity": 1}]}`,
			wantID:       "9",
			wantQuantity: 1,
			wantUnit:     "KOYTA",
		},
		{
			name:         "empty string quantity is zero",
			raw:          `{"transcription":"t","ai_response":"a","order":[{"id": "9", "quantity": "", "unit": "KOYTA"}]}`,
			wantID:       "9",
			wantQuantity: 0,
			wantUnit:     "KOYTA",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseOrderResponse(tt.raw)
			if err != nil {
				t.Fatalf("ParseOrderResponse failed: %v", err)
			}
			if len(parsed.Cart) != 1 {
				t.Fatalf("expected 1 cart item, got %d", len(parsed.Cart))
			}
			item := parsed.Cart[0]
			if item.ProductID != tt.wantID {
				t.Errorf("product id: got %q, want %q", item.ProductID, tt.wantID)
			}
			if item.Quantity != tt.wantQuantity {
				t.Errorf("quantity: got %d, want %d", item.Quantity, tt.wantQuantity)
			}
			if item.Unit != tt.wantUnit {
				t.Errorf("unit: got %q, want %q", item.Unit, tt.wantUnit)
			}
		})
	}
}

func TestParseOrderResponseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "not json at all", "{broken"} {
		if _, err := ParseOrderResponse(raw); err == nil {
			t.Errorf("expected error for %q, got none", raw)
		}
	}
}

func TestStripMarkdownFences(t *testing.T) {
	fenced := "```json\n{\"a\": 1}\n```"
	if got := stripMarkdownFences(fenced); got != `{"a": 1}` {
		t.Errorf("stripMarkdownFences: got %q", got)
	}
	plain := `{"a": 1}`
	if got := stripMarkdownFences(plain); got != plain {
		t.Errorf("plain text should pass through, got %q", got)
	}
}

func TestParseOrderResponseErrorIncludesCause(t *testing.T) {
	_, err := ParseOrderResponse("nonsense with no braces")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "failed to parse order response") {
		t.Errorf("unexpected error message: %v", err)
	}
}
