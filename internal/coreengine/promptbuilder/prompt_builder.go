// Package promptbuilder renders the system prompt sent to models by
// substituting the product catalog and the running cart state into a
// prompt template.
package promptbuilder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"voice-order-eval-platform/backend/internal/datastore"
)

// PlaceholderCatalog and PlaceholderCart are the two substitution points a
// prompt template may carry.
const (
	PlaceholderCatalog = "{{catalog}}"
	PlaceholderCart    = "{{current_cart_json}}"
)

const (
	defaultUnitsRelation = "10"
	defaultMainUnit      = "ΤΕΜΑΧΙΟ"
	defaultSecondaryUnit = "KOYTA"
)

// promptCartItem is the cart shape models see: bare id, quantity, unit.
type promptCartItem struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
}

// BuildCatalogCSV renders the product catalog as always-quoted CSV, the
// format the prompt's lookup instructions reference by column position.
func BuildCatalogCSV(products []*datastore.Product) string {
	if len(products) == 0 {
		return "No products available"
	}

	lines := make([]string, 0, len(products)+1)
	lines = append(lines, `"id","title","units_relation","main_unit_description","secondary_unit_description"`)
	for _, p := range products {
		lines = append(lines, fmt.Sprintf("%s,%s,%s,%s,%s",
			csvQuote(p.ID),
			csvQuote(p.Title),
			csvQuote(nullStringOr(p.UnitsRelation, defaultUnitsRelation)),
			csvQuote(nullStringOr(p.MainUnitDescription, defaultMainUnit)),
			csvQuote(nullStringOr(p.SecondaryUnitDescription, defaultSecondaryUnit)),
		))
	}
	return strings.Join(lines, "\n")
}

// BuildCartJSON renders the current cart as indented JSON, "[]" when empty.
func BuildCartJSON(items []datastore.CartItem) string {
	if len(items) == 0 {
		return "[]"
	}

	cart := make([]promptCartItem, 0, len(items))
	for _, item := range items {
		cart = append(cart, promptCartItem{
			ID:       item.ProductID,
			Quantity: item.Quantity,
			Unit:     item.Unit,
		})
	}

	out, err := json.MarshalIndent(cart, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(out)
}

// BuildSystemPrompt substitutes the catalog and cart placeholders in a
// prompt template. Placeholders absent from the template are left alone.
func BuildSystemPrompt(template string, products []*datastore.Product, currentCart []datastore.CartItem) string {
	prompt := strings.ReplaceAll(template, PlaceholderCatalog, BuildCatalogCSV(products))
	prompt = strings.ReplaceAll(prompt, PlaceholderCart, BuildCartJSON(currentCart))
	return prompt
}

// csvQuote wraps a field in double quotes, doubling any embedded quote.
func csvQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func nullStringOr(ns sql.NullString, fallback string) string {
	if ns.Valid && ns.String != "" {
		return ns.String
	}
	return fallback
}
