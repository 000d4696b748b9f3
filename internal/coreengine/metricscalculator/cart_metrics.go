package metricscalculator

import (
	"math"

	"voice-order-eval-platform/backend/internal/datastore"
)

// MismatchKind classifies a predicted item that hit the right product but
// the wrong quantity and/or unit.
type MismatchKind string

const (
	MismatchQuantity        MismatchKind = "quantity_mismatch"
	MismatchUnit            MismatchKind = "unit_mismatch"
	MismatchQuantityAndUnit MismatchKind = "quantity_and_unit_mismatch"
)

// CartMismatch is one itemized quantity/unit discrepancy.
type CartMismatch struct {
	ProductID        string       `json:"product_id"`
	ProductName      string       `json:"product_name,omitempty"`
	Kind             MismatchKind `json:"kind"`
	ExpectedQuantity int          `json:"expected_quantity"`
	ActualQuantity   int          `json:"actual_quantity"`
	ExpectedUnit     string       `json:"expected_unit"`
	ActualUnit       string       `json:"actual_unit"`
}

// CartComparisonResult scores one model's predicted cart against the ground
// truth for a single step.
type CartComparisonResult struct {
	ModelID         string               `json:"model_id"`
	Precision       float64              `json:"precision"`
	Recall          float64              `json:"recall"`
	F1Score         float64              `json:"f1_score"`
	ExactMatch      bool                 `json:"exact_match"`
	TruePositives   int                  `json:"true_positives"`
	MissingItems    []datastore.CartItem `json:"missing_items"`
	ExtraItems      []datastore.CartItem `json:"extra_items"`
	MismatchDetails []CartMismatch       `json:"mismatch_details"`
}

// CompareCarts scores a predicted cart against the ground truth. A true
// positive is an exact product-id, quantity, and unit match; a predicted item
// whose product id matches but whose quantity/unit differs is itemized as a
// mismatch and counts toward neither precision's nor recall's numerator.
//
// Each ground-truth entry can satisfy one predicted item at most. A repeated
// predicted product id therefore classifies as an extra item once its
// ground-truth entry is taken, which keeps every metric within [0, 1].
// Duplicate product ids in the ground truth itself are undefined input; the
// lookup keeps the last entry.
func CompareCarts(groundTruth, predicted []datastore.CartItem, modelID string) CartComparisonResult {
	gtByID := make(map[string]datastore.CartItem, len(groundTruth))
	for _, item := range groundTruth {
		gtByID[item.ProductID] = item
	}

	truePositives := 0
	consumed := make(map[string]bool, len(gtByID))
	missing := []datastore.CartItem{}
	extra := []datastore.CartItem{}
	mismatches := []CartMismatch{}

	for _, pred := range predicted {
		gt, ok := gtByID[pred.ProductID]
		if pred.ProductID == "" || !ok || consumed[pred.ProductID] {
			extra = append(extra, pred)
			continue
		}
		consumed[pred.ProductID] = true

		quantityOK := pred.Quantity == gt.Quantity
		unitOK := pred.Unit == gt.Unit
		switch {
		case quantityOK && unitOK:
			truePositives++
		case !quantityOK && !unitOK:
			mismatches = append(mismatches, newMismatch(MismatchQuantityAndUnit, gt, pred))
		case !quantityOK:
			mismatches = append(mismatches, newMismatch(MismatchQuantity, gt, pred))
		default:
			mismatches = append(mismatches, newMismatch(MismatchUnit, gt, pred))
		}
	}

	for _, gt := range groundTruth {
		if !consumed[gt.ProductID] {
			missing = append(missing, gt)
		}
	}

	precision := float64(truePositives) / float64(max(1, len(predicted)))
	recall := float64(truePositives) / float64(max(1, len(groundTruth)))
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	exactMatch := len(missing) == 0 &&
		len(extra) == 0 &&
		len(mismatches) == 0 &&
		len(groundTruth) == len(predicted)

	return CartComparisonResult{
		ModelID:         modelID,
		Precision:       Round4(precision),
		Recall:          Round4(recall),
		F1Score:         Round4(f1),
		ExactMatch:      exactMatch,
		TruePositives:   truePositives,
		MissingItems:    missing,
		ExtraItems:      extra,
		MismatchDetails: mismatches,
	}
}

func newMismatch(kind MismatchKind, gt, pred datastore.CartItem) CartMismatch {
	name := gt.ProductName
	if name == "" {
		name = pred.ProductName
	}
	return CartMismatch{
		ProductID:        gt.ProductID,
		ProductName:      name,
		Kind:             kind,
		ExpectedQuantity: gt.Quantity,
		ActualQuantity:   pred.Quantity,
		ExpectedUnit:     gt.Unit,
		ActualUnit:       pred.Unit,
	}
}

// Round4 rounds to the four decimal places metrics are reported at.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
