package authoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"voice-order-eval-platform/backend/internal/datastore"
)

const firstStepPromptFormat = `You are generating test data for a voice ordering system for a Greek tobacco/convenience store.

Generate a realistic initial order from a customer. The customer should order between 10 and 20 different products from the catalog below.

<product_catalog>
%s
</product_catalog>

Generate:
1. A natural Greek transcription of what the customer would say when placing this order
2. The cart items

OUTPUT FORMAT (JSON only, no other text):
{
  "transcription": "The Greek text of what the customer said, e.g., Θέλω 3 κουτιά TEREA RUSSET, 5 κουτιά TEREA AMBER...",
  "cart": [
    {"product_id": "1", "product_name": "TEREA RUSSET", "quantity": 3, "unit": "KOYTA"},
    {"product_id": "2", "product_name": "TEREA AMBER", "quantity": 5, "unit": "KOYTA"}
  ]
}

Rules:
- Use products from the catalog only
- Quantities should be realistic (1-10 boxes typically)
- Unit should be "KOYTA" (box/package) for most orders
- The transcription should be natural Greek speech
- Include 10-20 different products`

const modificationPromptFormat = `You are generating test data for a voice ordering system for a Greek tobacco/convenience store.

This is step %d of a multi-step ordering conversation. The customer already has items in their cart and now wants to MODIFY their order.

<product_catalog>
%s
</product_catalog>

<previous_conversation>
%s
</previous_conversation>

Generate a realistic modification to the order. The customer should do ONE of these:
- Add 2-5 new products to the cart
- Remove 1-3 products from the cart
- Change quantities of 2-4 existing products
- A combination of adding, removing, and changing quantities

Generate:
1. A natural Greek transcription of what the customer would say
2. The COMPLETE cart after this modification (not just the changes)

OUTPUT FORMAT (JSON only, no other text):
{
  "transcription": "The Greek text of what the customer said, e.g., Θέλω να προσθέσω 2 κουτιά TEREA SIENNA και να αφαιρέσω το TEREA AMBER",
  "cart": [
    {"product_id": "1", "product_name": "TEREA RUSSET", "quantity": 3, "unit": "KOYTA"},
    {"product_id": "5", "product_name": "TEREA SIENNA", "quantity": 2, "unit": "KOYTA"}
  ]
}

Rules:
- The cart array should contain the COMPLETE cart state after modifications
- Use products from the catalog only
- The transcription should clearly indicate what changes the customer wants
- Be realistic - customers often add forgotten items, remove items they changed their mind about, or adjust quantities`

// GeneratedOrder is a synthesized ground-truth pair for one step.
type GeneratedOrder struct {
	VoiceText string
	Cart      []datastore.CartItem
}

// OrderGenerator synthesizes plausible customer orders so scenarios can be
// authored without recording real calls first.
type OrderGenerator struct {
	client *genai.Client
	model  string
}

func NewOrderGenerator(apiKey, model string) (*OrderGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is not configured")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &OrderGenerator{client: client, model: model}, nil
}

// GenerateOrder produces a transcription and complete cart for the given
// step. Step one (or any step without history) gets a fresh initial order;
// later steps get a modification of the cart built up so far.
func (g *OrderGenerator) GenerateOrder(ctx context.Context, stepNumber int, previousSteps []datastore.ScenarioStep, products []*datastore.Product) (*GeneratedOrder, error) {
	catalog := generationCatalog(products)

	var prompt string
	if stepNumber == 1 || len(previousSteps) == 0 {
		prompt = fmt.Sprintf(firstStepPromptFormat, catalog)
	} else {
		prompt = fmt.Sprintf(modificationPromptFormat, stepNumber, catalog, conversationContext(previousSteps))
	}

	slog.Info("generating order", "model", g.model, "step", stepNumber, "previous_steps", len(previousSteps))

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt}},
	}}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("order generation call failed: %w", err)
	}

	raw := strings.TrimSpace(responseText(resp))
	if raw == "" {
		return nil, errors.New("order generation returned no text")
	}

	order, err := parseGeneratedOrder(raw)
	if err != nil {
		slog.Error("unparseable order generation response", "model", g.model, "response", raw)
		return nil, err
	}
	slog.Info("order generated", "step", stepNumber, "cart_items", len(order.Cart))
	return order, nil
}

// generationCatalog renders the catalog in the plain CSV shape the generation
// prompts expect. Missing unit metadata falls back to the store's defaults.
func generationCatalog(products []*datastore.Product) string {
	if len(products) == 0 {
		return "No products available"
	}
	lines := make([]string, 0, len(products)+1)
	lines = append(lines, "ID,Title,Units Relation,Main Unit,Secondary Unit")
	for _, p := range products {
		lines = append(lines, fmt.Sprintf("%s,%s,%s,%s,%s",
			p.ID,
			p.Title,
			nullOr(p.UnitsRelation, "10"),
			nullOr(p.MainUnitDescription, "ΤΕΜΑΧΙΟ"),
			nullOr(p.SecondaryUnitDescription, "KOYTA")))
	}
	return strings.Join(lines, "\n")
}

// conversationContext replays the earlier steps as text so the model keeps
// its modifications consistent with the established cart.
func conversationContext(previousSteps []datastore.ScenarioStep) string {
	steps := make([]datastore.ScenarioStep, len(previousSteps))
	copy(steps, previousSteps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })

	var sb strings.Builder
	sb.WriteString("Previous steps in the conversation:")
	for _, step := range steps {
		fmt.Fprintf(&sb, "\n\n--- Step %d ---\n", step.StepNumber)
		said := step.VoiceText.String
		if !step.VoiceText.Valid || said == "" {
			said = "No transcription"
		}
		fmt.Fprintf(&sb, "Customer said: %s\n", said)
		if len(step.GroundTruthCart) == 0 {
			sb.WriteString("Cart after this step: Empty")
			continue
		}
		sb.WriteString("Cart after this step:")
		for _, item := range step.GroundTruthCart {
			fmt.Fprintf(&sb, "\n  - %s (ID: %s): %d %s", item.ProductName, item.ProductID, item.Quantity, item.Unit)
		}
	}
	return sb.String()
}

type generatedCartItem struct {
	ProductID   any    `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    any    `json:"quantity"`
	Unit        string `json:"unit"`
}

type generatedPayload struct {
	Transcription string              `json:"transcription"`
	Cart          []generatedCartItem `json:"cart"`
}

// parseGeneratedOrder extracts the JSON object from the model output, which
// may arrive fenced or wrapped in prose.
func parseGeneratedOrder(raw string) (*GeneratedOrder, error) {
	candidate := raw
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		candidate = raw[start : end+1]
	}

	var payload generatedPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return nil, fmt.Errorf("order generation response is not valid JSON: %w", err)
	}

	cart := make([]datastore.CartItem, 0, len(payload.Cart))
	for _, item := range payload.Cart {
		unit := item.Unit
		if unit == "" {
			unit = "KOYTA"
		}
		cart = append(cart, datastore.CartItem{
			ProductID:   flexibleString(item.ProductID),
			ProductName: item.ProductName,
			Quantity:    flexibleInt(item.Quantity),
			Unit:        unit,
		})
	}
	return &GeneratedOrder{VoiceText: payload.Transcription, Cart: cart}, nil
}

func flexibleString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func flexibleInt(v any) int {
	switch val := v.(type) {
	case float64:
		return int(val)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return 0
}

func nullOr(ns sql.NullString, fallback string) string {
	if ns.Valid && ns.String != "" {
		return ns.String
	}
	return fallback
}
