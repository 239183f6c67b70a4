package payroll

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/params"
)

var twelve = decimal.NewFromInt(12)

// AnnualTax walks the bracket table in ascending order. The first bracket
// whose upper bound is at or above income (or the open top bracket) owes
// BaseTax + (income - From) * Rate. Income below the first lower bound owes
// nothing. Income above a table with no open bracket is taxed in the last
// bracket.
func AnnualTax(brackets []params.TaxBracket, income decimal.Decimal) decimal.Decimal {
	if len(brackets) == 0 || income.LessThan(brackets[0].Lower()) {
		return decimal.Zero
	}
	for _, b := range brackets {
		if b.Open() || b.To.GreaterThanOrEqual(income) {
			return owed(b, income)
		}
	}
	return owed(brackets[len(brackets)-1], income)
}

func owed(b params.TaxBracket, income decimal.Decimal) decimal.Decimal {
	return b.BaseTax.Add(income.Sub(b.Lower()).Mul(b.Rate))
}

// MonthlyTax annualizes a monthly income, applies AnnualTax and divides by
// twelve. The result is not rounded.
func MonthlyTax(brackets []params.TaxBracket, monthlyIncome decimal.Decimal) decimal.Decimal {
	return AnnualTax(brackets, monthlyIncome.Mul(twelve)).Div(twelve)
}
