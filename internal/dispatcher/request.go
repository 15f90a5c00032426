package dispatcher

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/jmehdipour/order-pipeline/internal/model"
)

// Request is an order-creation body decoded without a schema, so that a
// non-string item or a fractional quantity can be reported precisely.
type Request struct {
	Item     any `json:"item"`
	Quantity any `json:"quantity"`
}

// Validate returns the trimmed item and the quantity, or a *model.ValidationError.
func Validate(req *Request) (string, int, error) {
	if req == nil {
		return "", 0, model.NewValidationError("request body missing")
	}

	item, ok := req.Item.(string)
	if !ok || strings.TrimSpace(item) == "" {
		return "", 0, model.NewValidationError("item must be a non-empty string")
	}
	item = strings.TrimSpace(item)
	if len(item) > model.MaxItemLength {
		return "", 0, model.NewValidationError("item is too long")
	}

	qty, ok := positiveInt(req.Quantity)
	if !ok {
		return "", 0, model.NewValidationError("quantity must be a positive integer")
	}

	return item, qty, nil
}

// positiveInt accepts whole numbers in [1, MaxInt32]; 3.0 counts as whole.
func positiveInt(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			f = float64(i)
			break
		}
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < 1 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
