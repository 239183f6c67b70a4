/*
Package params provides the Parameter Service.

PURPOSE:
  Legal and economic constants (minimum wage, contribution rates, tax
  brackets) live in a defaults table compiled into the binary. Rows in
  the parameter store overlay those defaults. Load merges both into an
  immutable Set that one top-level calculation uses from start to end.

RESOLUTION ORDER:
  1. Defaults table (this file)
  2. Persisted rows with a non-empty value
  3. FOURTEENTH_AMOUNT follows MINIMUM_WAGE unless overridden itself

  A row with an empty value never deletes a default. A key that has
  neither a row nor a default resolves to ErrConfigurationMissing.

VALUE FORMATS:
  decimal  "460.00", "0.0945", or a ratio "1/24"
  int      "15"
  json     INCOME_TAX_BRACKETS only, see brackets.go

SEE ALSO:
  - brackets.go: TaxBracket table
  - cache.go: read-mostly Cache over a ParameterStore
  - file.go: YAML overlay file
*/
package params

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// Parameter keys.
const (
	MinimumWage         = "MINIMUM_WAGE"
	IESSEmployeeRate    = "IESS_EMPLOYEE_RATE"
	IESSEmployerRate    = "IESS_EMPLOYER_RATE"
	ReserveFundRate     = "RESERVE_FUND_RATE"
	ThirteenthRate      = "THIRTEENTH_RATE"
	FourteenthAmount    = "FOURTEENTH_AMOUNT"
	VacationDaysPerYear = "VACATION_DAYS_PER_YEAR"
	VacationDailyRate   = "VACATION_DAILY_RATE"
	Overtime50Factor    = "OVERTIME_50_FACTOR"
	Overtime100Factor   = "OVERTIME_100_FACTOR"
	IncomeTaxBrackets   = "INCOME_TAX_BRACKETS"
)

// ratioPrecision is the number of fractional digits kept when a value is
// written as a ratio.
const ratioPrecision = 20

// =============================================================================
// DEFAULTS TABLE
// =============================================================================

// Definition is one entry of the defaults table. An empty Default means
// the key is derived or has no default.
type Definition struct {
	Key     string
	Type    generic.ParameterType
	Default string
}

var definitions = []Definition{
	{Key: MinimumWage, Type: generic.ParamDecimal, Default: "460.00"},
	{Key: IESSEmployeeRate, Type: generic.ParamDecimal, Default: "0.0945"},
	{Key: IESSEmployerRate, Type: generic.ParamDecimal, Default: "0.1215"},
	{Key: ReserveFundRate, Type: generic.ParamDecimal, Default: "0.0833"},
	{Key: ThirteenthRate, Type: generic.ParamDecimal, Default: "0.0833"},
	{Key: FourteenthAmount, Type: generic.ParamDecimal}, // = MINIMUM_WAGE
	{Key: VacationDaysPerYear, Type: generic.ParamInt, Default: "15"},
	{Key: VacationDailyRate, Type: generic.ParamDecimal, Default: "1/24"},
	{Key: Overtime50Factor, Type: generic.ParamDecimal, Default: "1.5"},
	{Key: Overtime100Factor, Type: generic.ParamDecimal, Default: "2.0"},
	{Key: IncomeTaxBrackets, Type: generic.ParamJSON, Default: ecuador2024Brackets},
}

// Defaults returns a copy of the defaults table.
func Defaults() []Definition {
	return append([]Definition(nil), definitions...)
}

func definitionOf(key string) (Definition, bool) {
	for _, d := range definitions {
		if d.Key == key {
			return d, true
		}
	}
	return Definition{}, false
}

// =============================================================================
// SET - Immutable snapshot
// =============================================================================

// Set is an immutable parameter snapshot. All accessors are safe for
// concurrent use.
type Set struct {
	raw      map[string]generic.ParameterRow
	decimals map[string]decimal.Decimal
	ints     map[string]int
	brackets []TaxBracket
}

// Load fetches every row from the store and merges it over the defaults.
func Load(ctx context.Context, store generic.ParameterStore) (*Set, error) {
	rows, err := store.ListParameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list parameters: %w", err)
	}
	return Build(rows)
}

// Build merges rows over the defaults table.
func Build(rows []generic.ParameterRow) (*Set, error) {
	raw := make(map[string]generic.ParameterRow, len(definitions)+len(rows))
	for _, d := range definitions {
		if d.Default != "" {
			raw[d.Key] = generic.ParameterRow{Key: d.Key, Value: d.Default, Type: d.Type}
		}
	}

	fourteenthOverridden := false
	for _, row := range rows {
		if strings.TrimSpace(row.Value) == "" {
			continue
		}
		if def, ok := definitionOf(row.Key); ok {
			row.Type = def.Type
		} else if row.Type == "" {
			row.Type = generic.ParamDecimal
		}
		row.Value = strings.TrimSpace(row.Value)
		raw[row.Key] = row
		if row.Key == FourteenthAmount {
			fourteenthOverridden = true
		}
	}
	if !fourteenthOverridden {
		if mw, ok := raw[MinimumWage]; ok {
			raw[FourteenthAmount] = generic.ParameterRow{Key: FourteenthAmount, Value: mw.Value, Type: generic.ParamDecimal}
		}
	}

	s := &Set{
		raw:      raw,
		decimals: make(map[string]decimal.Decimal),
		ints:     make(map[string]int),
	}
	for key, row := range raw {
		if err := s.parse(key, row); err != nil {
			return nil, err
		}
	}
	for _, d := range definitions {
		if _, ok := raw[d.Key]; !ok {
			return nil, &generic.ConfigurationMissingError{Key: d.Key}
		}
	}
	return s, nil
}

// Default returns the defaults table as a Set.
func Default() *Set {
	s, err := Build(nil)
	if err != nil {
		panic(err)
	}
	return s
}

// MustBuild is Build for tests and fixtures.
func MustBuild(overrides map[string]string) *Set {
	rows := make([]generic.ParameterRow, 0, len(overrides))
	for k, v := range overrides {
		rows = append(rows, generic.ParameterRow{Key: k, Value: v})
	}
	s, err := Build(rows)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Set) parse(key string, row generic.ParameterRow) error {
	switch row.Type {
	case generic.ParamInt:
		n, err := strconv.Atoi(row.Value)
		if err != nil {
			return invalid(key, row.Value, err)
		}
		s.ints[key] = n
		s.decimals[key] = decimal.NewFromInt(int64(n))
	case generic.ParamJSON:
		if key != IncomeTaxBrackets {
			return nil
		}
		brackets, err := ParseBrackets(row.Value)
		if err != nil {
			return invalid(key, row.Value, err)
		}
		s.brackets = brackets
	default:
		d, err := ParseValue(row.Value)
		if err != nil {
			return invalid(key, row.Value, err)
		}
		s.decimals[key] = d
	}
	return nil
}

func invalid(key, value string, err error) error {
	return fmt.Errorf("%w: %s=%q: %v", generic.ErrInvalidParameter, key, value, err)
}

// ParseValue reads a decimal literal or a ratio "a/b".
func ParseValue(v string) (decimal.Decimal, error) {
	if num, den, ok := strings.Cut(v, "/"); ok {
		n, err := decimal.NewFromString(strings.TrimSpace(num))
		if err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(strings.TrimSpace(den))
		if err != nil {
			return decimal.Zero, err
		}
		if d.IsZero() {
			return decimal.Zero, fmt.Errorf("zero denominator")
		}
		return n.DivRound(d, ratioPrecision), nil
	}
	return decimal.NewFromString(v)
}

// ValidateRow parses a single row the way Build would.
func ValidateRow(row generic.ParameterRow) error {
	row.Value = strings.TrimSpace(row.Value)
	if row.Value == "" {
		return nil
	}
	if def, ok := definitionOf(row.Key); ok {
		row.Type = def.Type
	}
	s := &Set{decimals: map[string]decimal.Decimal{}, ints: map[string]int{}}
	return s.parse(row.Key, row)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Decimal returns a numeric parameter.
func (s *Set) Decimal(key string) (decimal.Decimal, error) {
	d, ok := s.decimals[key]
	if !ok {
		return decimal.Zero, &generic.ConfigurationMissingError{Key: key}
	}
	return d, nil
}

// Int returns an integer parameter.
func (s *Set) Int(key string) (int, error) {
	n, ok := s.ints[key]
	if !ok {
		return 0, &generic.ConfigurationMissingError{Key: key}
	}
	return n, nil
}

// Value returns the raw string that won resolution.
func (s *Set) Value(key string) (string, bool) {
	row, ok := s.raw[key]
	return row.Value, ok
}

// Keys lists every resolved key, sorted.
func (s *Set) Keys() []string {
	keys := make([]string, 0, len(s.raw))
	for k := range s.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build validated every defaults-table key, so these never miss.
func (s *Set) MinimumWage() decimal.Decimal      { return s.decimals[MinimumWage] }
func (s *Set) IESSEmployeeRate() decimal.Decimal { return s.decimals[IESSEmployeeRate] }
func (s *Set) IESSEmployerRate() decimal.Decimal { return s.decimals[IESSEmployerRate] }
func (s *Set) ReserveFundRate() decimal.Decimal  { return s.decimals[ReserveFundRate] }
func (s *Set) ThirteenthRate() decimal.Decimal   { return s.decimals[ThirteenthRate] }
func (s *Set) FourteenthAmount() decimal.Decimal { return s.decimals[FourteenthAmount] }
func (s *Set) VacationDaysPerYear() int          { return s.ints[VacationDaysPerYear] }
func (s *Set) VacationDailyRate() decimal.Decimal {
	return s.decimals[VacationDailyRate]
}
func (s *Set) Overtime50Factor() decimal.Decimal  { return s.decimals[Overtime50Factor] }
func (s *Set) Overtime100Factor() decimal.Decimal { return s.decimals[Overtime100Factor] }

// Brackets returns a copy of the tax table.
func (s *Set) Brackets() []TaxBracket {
	return append([]TaxBracket(nil), s.brackets...)
}
