package params

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/generic"
)

// File is the YAML overlay format:
//
//	parameters:
//	  MINIMUM_WAGE: "470.00"
//	  VACATION_DAYS_PER_YEAR: "15"
//	income_tax_brackets:
//	  - {from: "0", to: "11902", rate: "0", base_tax: "0"}
//	  - {to: "15159", rate: "0.05", base_tax: "0"}
//	  - {rate: "0.37", base_tax: "13536"}
type File struct {
	Parameters        map[string]string `yaml:"parameters"`
	IncomeTaxBrackets []bracketYAML     `yaml:"income_tax_brackets"`
}

type bracketYAML struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Rate    string `yaml:"rate"`
	BaseTax string `yaml:"base_tax"`
}

// LoadFile reads a YAML overlay and returns it as parameter rows. Every
// row is validated before any is returned.
func LoadFile(path string) ([]generic.ParameterRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameter file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile is LoadFile over bytes.
func ParseFile(data []byte) ([]generic.ParameterRow, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parameter file: %v", generic.ErrInvalidParameter, err)
	}

	rows := make([]generic.ParameterRow, 0, len(f.Parameters)+1)
	for key, value := range f.Parameters {
		row := generic.ParameterRow{Key: key, Value: value, Type: generic.ParamDecimal}
		if def, ok := definitionOf(key); ok {
			row.Type = def.Type
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	if len(f.IncomeTaxBrackets) > 0 {
		brackets, err := f.brackets()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", generic.ErrInvalidParameter, IncomeTaxBrackets, err)
		}
		encoded, err := EncodeBrackets(brackets)
		if err != nil {
			return nil, err
		}
		rows = append(rows, generic.ParameterRow{Key: IncomeTaxBrackets, Value: encoded, Type: generic.ParamJSON})
	}

	for _, row := range rows {
		if err := ValidateRow(row); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (f File) brackets() ([]TaxBracket, error) {
	out := make([]TaxBracket, 0, len(f.IncomeTaxBrackets))
	for i, y := range f.IncomeTaxBrackets {
		var b TaxBracket
		var err error
		if b.From, err = optionalDecimal(y.From); err != nil {
			return nil, fmt.Errorf("bracket %d from: %w", i, err)
		}
		if b.To, err = optionalDecimal(y.To); err != nil {
			return nil, fmt.Errorf("bracket %d to: %w", i, err)
		}
		if b.Rate, err = decimal.NewFromString(y.Rate); err != nil {
			return nil, fmt.Errorf("bracket %d rate: %w", i, err)
		}
		if y.BaseTax == "" {
			b.BaseTax = decimal.Zero
		} else if b.BaseTax, err = decimal.NewFromString(y.BaseTax); err != nil {
			return nil, fmt.Errorf("bracket %d base_tax: %w", i, err)
		}
		out = append(out, b)
	}
	if err := NormalizeBrackets(out); err != nil {
		return nil, err
	}
	return out, nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
