package authoring

import (
	"database/sql"
	"strings"
	"testing"

	"voice-order-eval-platform/backend/internal/datastore"
)

func TestParseGeneratedOrder(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantText  string
		wantItems int
		wantErr   bool
	}{
		{
			name:      "clean json",
			raw:       `{"transcription": "Θέλω 3 κουτιά TEREA RUSSET", "cart": [{"product_id": "1", "product_name": "TEREA RUSSET", "quantity": 3, "unit": "KOYTA"}]}`,
			wantText:  "Θέλω 3 κουτιά TEREA RUSSET",
			wantItems: 1,
		},
		{
			name:      "fenced json",
			raw:       "```json\n{\"transcription\": \"δύο TEREA\", \"cart\": [{\"product_id\": 7, \"quantity\": \"2\"}]}\n```",
			wantText:  "δύο TEREA",
			wantItems: 1,
		},
		{
			name:      "prose wrapped",
			raw:       `Here is the order you asked for: {"transcription": "ok", "cart": []} Hope that helps!`,
			wantText:  "ok",
			wantItems: 0,
		},
		{
			name:    "no json at all",
			raw:     "I cannot generate an order right now.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := parseGeneratedOrder(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseGeneratedOrder failed: %v", err)
			}
			if order.VoiceText != tt.wantText {
				t.Errorf("VoiceText = %q, want %q", order.VoiceText, tt.wantText)
			}
			if len(order.Cart) != tt.wantItems {
				t.Errorf("cart has %d items, want %d", len(order.Cart), tt.wantItems)
			}
		})
	}
}

func TestParseGeneratedOrderCoercesLooseTypes(t *testing.T) {
	order, err := parseGeneratedOrder(`{"transcription": "x", "cart": [{"product_id": 12, "product_name": "TEREA", "quantity": "4"}]}`)
	if err != nil {
		t.Fatalf("parseGeneratedOrder failed: %v", err)
	}
	item := order.Cart[0]
	if item.ProductID != "12" {
		t.Errorf("ProductID = %q, want numeric id coerced to string", item.ProductID)
	}
	if item.Quantity != 4 {
		t.Errorf("Quantity = %d, want string quantity coerced to 4", item.Quantity)
	}
	if item.Unit != "KOYTA" {
		t.Errorf("Unit = %q, want default KOYTA", item.Unit)
	}
}

func TestGenerationCatalog(t *testing.T) {
	if got := generationCatalog(nil); got != "No products available" {
		t.Errorf("empty catalog = %q", got)
	}

	products := []*datastore.Product{
		{
			ID:                       "42",
			Title:                    "TEREA SIENNA",
			UnitsRelation:            sql.NullString{String: "10", Valid: true},
			MainUnitDescription:      sql.NullString{String: "ΤΕΜΑΧΙΟ", Valid: true},
			SecondaryUnitDescription: sql.NullString{String: "KOYTA", Valid: true},
		},
		{ID: "43", Title: "TEREA AMBER"},
	}
	got := generationCatalog(products)
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("catalog has %d lines, want header plus 2 rows:\n%s", len(lines), got)
	}
	if lines[0] != "ID,Title,Units Relation,Main Unit,Secondary Unit" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "42,TEREA SIENNA,10,ΤΕΜΑΧΙΟ,KOYTA" {
		t.Errorf("row = %q", lines[1])
	}
	// Missing unit metadata falls back to store defaults.
	if lines[2] != "43,TEREA AMBER,10,ΤΕΜΑΧΙΟ,KOYTA" {
		t.Errorf("defaulted row = %q", lines[2])
	}
}

func TestConversationContext(t *testing.T) {
	steps := []datastore.ScenarioStep{
		{
			StepNumber: 2,
			VoiceText:  sql.NullString{String: "και δύο TEREA AMBER", Valid: true},
			GroundTruthCart: []datastore.CartItem{
				{ProductID: "1", ProductName: "TEREA RUSSET", Quantity: 3, Unit: "KOYTA"},
				{ProductID: "2", ProductName: "TEREA AMBER", Quantity: 2, Unit: "KOYTA"},
			},
		},
		{StepNumber: 1},
	}

	got := conversationContext(steps)

	// Steps render in numeric order regardless of slice order.
	if strings.Index(got, "--- Step 1 ---") > strings.Index(got, "--- Step 2 ---") {
		t.Errorf("steps out of order:\n%s", got)
	}
	for _, want := range []string{
		"Customer said: No transcription",
		"Cart after this step: Empty",
		"Customer said: και δύο TEREA AMBER",
		"  - TEREA RUSSET (ID: 1): 3 KOYTA",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
}

func TestConstructorsRequireAPIKey(t *testing.T) {
	if _, err := NewOrderGenerator("", "gemini-2.5-flash"); err == nil {
		t.Error("NewOrderGenerator accepted an empty API key")
	}
	if _, err := NewTranscriber("", "gemini-2.0-flash"); err == nil {
		t.Error("NewTranscriber accepted an empty API key")
	}
}
