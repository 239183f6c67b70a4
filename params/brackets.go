package params

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// TaxBracket is one row of the annual income tax table.
//
//	From     lower bound of the bracket (omit to continue from the previous To)
//	To       upper bound, nil on the open top bracket
//	Rate     marginal rate as a fraction (0.05 = 5%)
//	BaseTax  cumulative tax owed at From
type TaxBracket struct {
	From    *decimal.Decimal `json:"from,omitempty"`
	To      *decimal.Decimal `json:"to"`
	Rate    decimal.Decimal  `json:"rate"`
	BaseTax decimal.Decimal  `json:"base_tax"`
}

// Lower returns From, or zero when unset.
func (b TaxBracket) Lower() decimal.Decimal {
	if b.From == nil {
		return decimal.Zero
	}
	return *b.From
}

// Open reports whether the bracket has no upper bound.
func (b TaxBracket) Open() bool { return b.To == nil }

// Ecuador 2024 schedule (SRI), annual USD.
const ecuador2024Brackets = `[
  {"from": "0",     "to": "11902", "rate": "0",    "base_tax": "0"},
  {"from": "11902", "to": "15159", "rate": "0.05", "base_tax": "0"},
  {"from": "15159", "to": "19682", "rate": "0.10", "base_tax": "163"},
  {"from": "19682", "to": "26031", "rate": "0.12", "base_tax": "614"},
  {"from": "26031", "to": "34255", "rate": "0.15", "base_tax": "1377"},
  {"from": "34255", "to": "45407", "rate": "0.20", "base_tax": "2611"},
  {"from": "45407", "to": "57374", "rate": "0.25", "base_tax": "4841"},
  {"from": "57374", "to": "76384", "rate": "0.30", "base_tax": "7833"},
  {"from": "76384", "to": null,    "rate": "0.37", "base_tax": "13536"}
]`

// ParseBrackets decodes and normalizes a JSON bracket list. Missing From
// values are filled from the previous To.
func ParseBrackets(s string) ([]TaxBracket, error) {
	var brackets []TaxBracket
	if err := json.Unmarshal([]byte(s), &brackets); err != nil {
		return nil, err
	}
	if err := NormalizeBrackets(brackets); err != nil {
		return nil, err
	}
	return brackets, nil
}

// NormalizeBrackets fills missing lower bounds in place and validates the
// table: ascending, contiguous, only the last bracket open.
func NormalizeBrackets(brackets []TaxBracket) error {
	one := decimal.NewFromInt(1)
	prev := decimal.Zero
	for i := range brackets {
		b := &brackets[i]
		if b.From == nil {
			from := prev
			b.From = &from
		}
		switch {
		case b.From.IsNegative():
			return fmt.Errorf("bracket %d: negative lower bound", i)
		case i > 0 && !b.From.Equal(prev):
			return fmt.Errorf("bracket %d: lower bound %s does not continue from %s", i, b.From, prev)
		case b.Rate.IsNegative() || b.Rate.GreaterThan(one):
			return fmt.Errorf("bracket %d: rate %s outside [0, 1]", i, b.Rate)
		case b.BaseTax.IsNegative():
			return fmt.Errorf("bracket %d: negative base tax", i)
		}
		if b.To == nil {
			if i != len(brackets)-1 {
				return errors.New("only the last bracket may be open")
			}
			continue
		}
		if !b.To.GreaterThan(*b.From) {
			return fmt.Errorf("bracket %d: upper bound %s not above %s", i, b.To, b.From)
		}
		prev = *b.To
	}
	return nil
}

// EncodeBrackets renders brackets as the JSON stored in the parameter table.
func EncodeBrackets(brackets []TaxBracket) (string, error) {
	b, err := json.Marshal(brackets)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
