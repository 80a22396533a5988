package models

import (
	"database/sql/driver"
	"encoding/json"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// FallbackLanguage is used when a failure reason has no entry for the requested language.
const FallbackLanguage = "en-US"

// Label is one diagnostic tag returned by the gateway.
type Label struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Labels keeps the gateway's ordering of diagnostic tags.
type Labels []Label

// Get returns the value for a label id.
func (l Labels) Get(id string) (string, bool) {
	for _, label := range l {
		if label.ID == id {
			return label.Value, true
		}
	}
	return "", false
}

// Value stores labels as a JSON array.
func (l Labels) Value() (driver.Value, error) {
	if l == nil {
		l = Labels{}
	}
	return marshalColumn(l)
}

// Scan decodes a JSON array column.
func (l *Labels) Scan(src any) error {
	*l = Labels{}
	return unmarshalColumn(src, l)
}

// FailureReason maps a language code to a human readable message.
type FailureReason map[string]string

// Translate returns the message for lang, falling back to FallbackLanguage and
// then to the first entry in key order.
func (f FailureReason) Translate(lang string) string {
	if len(f) == 0 {
		return ""
	}
	if msg, ok := f[lang]; ok && lang != "" {
		return msg
	}
	if msg, ok := f[FallbackLanguage]; ok {
		return msg
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return f[keys[0]]
}

// Value stores the reason as a JSON object, or NULL when absent.
func (f FailureReason) Value() (driver.Value, error) {
	if len(f) == 0 {
		return nil, nil
	}
	return marshalColumn(f)
}

// Scan decodes a nullable JSON object column.
func (f *FailureReason) Scan(src any) error {
	*f = nil
	if src == nil {
		return nil
	}
	var m map[string]string
	if err := unmarshalColumn(src, &m); err != nil {
		return err
	}
	if len(m) > 0 {
		*f = m
	}
	return nil
}

// LineItemReduction is one requested refund delta for a line item.
type LineItemReduction struct {
	LineItemID         string          `json:"line_item_id"`
	QuantityReduction  decimal.Decimal `json:"quantity_reduction"`
	UnitPriceReduction decimal.Decimal `json:"unit_price_reduction"`
}

// Reductions is the reduction set of one refund attempt.
type Reductions []LineItemReduction

// NormalizeReductions drops entries that reduce neither quantity nor unit price.
func NormalizeReductions(in []LineItemReduction) Reductions {
	out := make(Reductions, 0, len(in))
	for _, r := range in {
		if r.QuantityReduction.IsPositive() || r.UnitPriceReduction.IsPositive() {
			out = append(out, r)
		}
	}
	return out
}

// Equal compares two reduction sets element by element.
func (r Reductions) Equal(other Reductions) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i].LineItemID != other[i].LineItemID ||
			!r[i].QuantityReduction.Equal(other[i].QuantityReduction) ||
			!r[i].UnitPriceReduction.Equal(other[i].UnitPriceReduction) {
			return false
		}
	}
	return true
}

// Value stores reductions as a JSON array.
func (r Reductions) Value() (driver.Value, error) {
	if r == nil {
		r = Reductions{}
	}
	return marshalColumn(r)
}

// Scan decodes a JSON array column.
func (r *Reductions) Scan(src any) error {
	*r = nil
	if src == nil {
		return nil
	}
	return unmarshalColumn(src, r)
}

func marshalColumn(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal column")
	}
	return string(b), nil
}

func unmarshalColumn(src any, dest any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.Newf("unsupported column type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errors.Wrap(err, "unmarshal column")
	}
	return nil
}
