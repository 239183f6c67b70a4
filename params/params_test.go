package params_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/params"
)

func dec(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msg)
}

// =============================================================================
// DEFAULTS AND OVERLAY
// =============================================================================

func TestLoad_EmptyStore_UsesDefaults(t *testing.T) {
	// GIVEN: A fresh installation with no parameter rows
	// WHEN: Loading the snapshot
	// THEN: Every default is available

	set, err := params.Load(context.Background(), store.NewMemory())
	require.NoError(t, err)

	assertDecimal(t, "460.00", set.MinimumWage())
	assertDecimal(t, "0.0945", set.IESSEmployeeRate())
	assertDecimal(t, "0.1215", set.IESSEmployerRate())
	assertDecimal(t, "0.0833", set.ReserveFundRate())
	assertDecimal(t, "0.0833", set.ThirteenthRate())
	assertDecimal(t, "460.00", set.FourteenthAmount())
	assertDecimal(t, "1.5", set.Overtime50Factor())
	assertDecimal(t, "2", set.Overtime100Factor())
	assert.Equal(t, 15, set.VacationDaysPerYear())
	assert.Len(t, set.Brackets(), 9)

	// 1/24 within rounding noise
	diff := set.VacationDailyRate().Mul(decimal.NewFromInt(24)).Sub(decimal.NewFromInt(1)).Abs()
	assert.True(t, diff.LessThan(dec("0.000000000001")))
}

func TestLoad_RowsOverlayDefaults(t *testing.T) {
	// GIVEN: A persisted minimum wage override
	// WHEN: Loading
	// THEN: The override wins and FOURTEENTH_AMOUNT follows it

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveParameter(ctx, generic.ParameterRow{Key: params.MinimumWage, Value: "470.00"}))

	set, err := params.Load(ctx, mem)
	require.NoError(t, err)
	assertDecimal(t, "470.00", set.MinimumWage())
	assertDecimal(t, "470.00", set.FourteenthAmount())
}

func TestLoad_FourteenthOverrideIndependentOfMinimumWage(t *testing.T) {
	set := params.MustBuild(map[string]string{
		params.MinimumWage:      "470.00",
		params.FourteenthAmount: "450.00",
	})
	assertDecimal(t, "450.00", set.FourteenthAmount())
}

func TestLoad_EmptyValueNeverDeletesDefault(t *testing.T) {
	set := params.MustBuild(map[string]string{params.IESSEmployeeRate: "  "})
	assertDecimal(t, "0.0945", set.IESSEmployeeRate())
}

func TestLoad_UnparsableValue(t *testing.T) {
	_, err := params.Build([]generic.ParameterRow{{Key: params.IESSEmployeeRate, Value: "nine"}})
	assert.ErrorIs(t, err, generic.ErrInvalidParameter)

	_, err = params.Build([]generic.ParameterRow{{Key: params.VacationDaysPerYear, Value: "15.5"}})
	assert.ErrorIs(t, err, generic.ErrInvalidParameter)
}

func TestSet_UnknownKeyIsConfigurationMissing(t *testing.T) {
	set := params.Default()

	_, err := params.Default().Decimal("NIGHT_SHIFT_FACTOR")
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrConfigurationMissing)
	var missing *generic.ConfigurationMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "NIGHT_SHIFT_FACTOR", missing.Key)

	_, err = set.Int(params.MinimumWage)
	assert.ErrorIs(t, err, generic.ErrConfigurationMissing)
}

func TestSet_ExtraKeysAreKept(t *testing.T) {
	set := params.MustBuild(map[string]string{"NIGHT_SHIFT_FACTOR": "1.25"})
	v, err := set.Decimal("NIGHT_SHIFT_FACTOR")
	require.NoError(t, err)
	assertDecimal(t, "1.25", v)
	assert.Contains(t, set.Keys(), "NIGHT_SHIFT_FACTOR")
}

func TestParseValue_Ratio(t *testing.T) {
	v, err := params.ParseValue("1/4")
	require.NoError(t, err)
	assertDecimal(t, "0.25", v)

	_, err = params.ParseValue("1/0")
	assert.Error(t, err)
}

// =============================================================================
// CACHE
// =============================================================================

func TestCache_SnapshotIsStableUntilInvalidated(t *testing.T) {
	// GIVEN: A cache with one snapshot handed out
	// WHEN: The minimum wage is changed through the cache
	// THEN: The old snapshot is untouched and the next one sees the change

	ctx := context.Background()
	cache := params.NewCache(store.NewMemory(), nil)

	before, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	again, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, before, again)

	require.NoError(t, cache.Put(ctx, generic.ParameterRow{Key: params.MinimumWage, Value: "482.00"}))

	after, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	assertDecimal(t, "460.00", before.MinimumWage())
	assertDecimal(t, "482.00", after.MinimumWage())
}

func TestCache_PutRejectsInvalidValue(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	cache := params.NewCache(mem, nil)

	err := cache.Put(ctx, generic.ParameterRow{Key: params.IncomeTaxBrackets, Value: `[{"to": "10", "rate": "2"}]`})
	assert.ErrorIs(t, err, generic.ErrInvalidParameter)

	rows, err := mem.ListParameters(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCache_PutStampsClock(t *testing.T) {
	// GIVEN: A cache on a fixed clock
	// WHEN: A row without a timestamp is written
	// THEN: The stored row carries the clock's instant

	ctx := context.Background()
	mem := store.NewMemory()
	at := time.Date(2024, time.January, 2, 8, 30, 0, 0, time.UTC)
	cache := params.NewCache(mem, generic.FixedClock{At: at})

	require.NoError(t, cache.Put(ctx, generic.ParameterRow{Key: params.MinimumWage, Value: "470.00"}))

	rows, err := mem.ListParameters(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].UpdatedAt.Equal(at))
}

// =============================================================================
// BRACKETS
// =============================================================================

func TestParseBrackets_FillsLowerBounds(t *testing.T) {
	brackets, err := params.ParseBrackets(`[
		{"to": "100", "rate": "0", "base_tax": "0"},
		{"to": "200", "rate": "0.1", "base_tax": "0"},
		{"to": null, "rate": "0.2", "base_tax": "10"}
	]`)
	require.NoError(t, err)
	require.Len(t, brackets, 3)
	assertDecimal(t, "0", brackets[0].Lower())
	assertDecimal(t, "100", brackets[1].Lower())
	assertDecimal(t, "200", brackets[2].Lower())
	assert.True(t, brackets[2].Open())
}

func TestParseBrackets_RejectsBrokenTables(t *testing.T) {
	cases := map[string]string{
		"gap":          `[{"from": "0", "to": "100", "rate": "0"}, {"from": "150", "to": "200", "rate": "0.1"}]`,
		"open middle":  `[{"to": null, "rate": "0"}, {"to": "200", "rate": "0.1"}]`,
		"descending":   `[{"to": "100", "rate": "0"}, {"to": "50", "rate": "0.1"}]`,
		"rate above 1": `[{"to": "100", "rate": "5"}]`,
		"not json":     `brackets`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := params.ParseBrackets(raw)
			assert.Error(t, err)
		})
	}
}

func TestDefaultBrackets_EncodeRoundTrip(t *testing.T) {
	brackets := params.Default().Brackets()
	encoded, err := params.EncodeBrackets(brackets)
	require.NoError(t, err)

	again, err := params.ParseBrackets(encoded)
	require.NoError(t, err)
	require.Len(t, again, len(brackets))
	for i := range brackets {
		assert.True(t, brackets[i].Lower().Equal(again[i].Lower()), "bracket %d", i)
		assert.True(t, brackets[i].Rate.Equal(again[i].Rate), "bracket %d", i)
	}
}

// =============================================================================
// YAML FILE
// =============================================================================

func TestParseFile(t *testing.T) {
	rows, err := params.ParseFile([]byte(`
parameters:
  MINIMUM_WAGE: "470.00"
  VACATION_DAYS_PER_YEAR: "15"
income_tax_brackets:
  - {from: "0", to: "12000", rate: "0", base_tax: "0"}
  - {to: "16000", rate: "0.05", base_tax: "0"}
  - {rate: "0.10", base_tax: "200"}
`))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	set, err := params.Build(rows)
	require.NoError(t, err)
	assertDecimal(t, "470.00", set.MinimumWage())
	require.Len(t, set.Brackets(), 3)
	assertDecimal(t, "16000", set.Brackets()[2].Lower())
	assert.True(t, set.Brackets()[2].Open())
}

func TestParseFile_InvalidValue(t *testing.T) {
	_, err := params.ParseFile([]byte("parameters:\n  IESS_EMPLOYEE_RATE: \"lots\"\n"))
	assert.ErrorIs(t, err, generic.ErrInvalidParameter)
}
