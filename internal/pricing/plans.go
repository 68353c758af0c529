package pricing

import "github.com/shopspring/decimal"

// Plan is a purchasable credit bundle sold through the external storefront.
type Plan struct {
	Code     string
	Name     string
	Credits  int64
	Price    decimal.Decimal
	Currency string
}

// Keyed by the storefront's opaque product codes.
var plans = map[string]Plan{
	"DM-STARTER": {Code: "DM-STARTER", Name: "Starter", Credits: 100, Price: decimal.RequireFromString("9.00"), Currency: "USD"},
	"DM-CREATOR": {Code: "DM-CREATOR", Name: "Creator", Credits: 250, Price: decimal.RequireFromString("19.00"), Currency: "USD"},
	"DM-STUDIO":  {Code: "DM-STUDIO", Name: "Studio", Credits: 700, Price: decimal.RequireFromString("49.00"), Currency: "USD"},
}

func PlanByCode(code string) (Plan, bool) {
	p, ok := plans[code]
	return p, ok
}
