package domain

import (
	"fmt"
	"time"
)

// Product is a purchasable offering.
type Product string

const (
	ProductCommunity Product = "community"
	ProductMentoring Product = "mentoring"
)

// PayMethod selects which currency amount a payment form receives.
type PayMethod string

const (
	PayMethodCrypto PayMethod = "crypto"
	PayMethodFiat   PayMethod = "fiat"
)

// Plan is one row of the static price table: product x period x price.
// Months is zero for periodless offerings (mentoring has no term).
type Plan struct {
	Key        string
	Label      string
	Product    Product
	Months     int
	AmountUSDT string
	AmountUAH  string
}

// HasPeriod reports whether the plan carries a subscription term.
func (p Plan) HasPeriod() bool {
	return p.Months > 0
}

// ExpiresAt computes the subscription end date for period plans. Periodless
// plans return the zero time.
func (p Plan) ExpiresAt(now time.Time) time.Time {
	if !p.HasPeriod() {
		return time.Time{}
	}
	return now.AddDate(0, p.Months, 0)
}

// Amounts returns the (usdt, uah) pair to prefill for the given pay method.
// Exactly one side is non-empty; the other is the empty string so the
// receiving form always sees both keys.
func (p Plan) Amounts(method PayMethod) (usdt, uah string) {
	if method == PayMethodFiat {
		return "", p.AmountUAH
	}
	return p.AmountUSDT, ""
}

// Plans is the catalog in menu order.
var Plans = []Plan{
	{Key: "community_1m", Label: "Community — 1 month", Product: ProductCommunity, Months: 1, AmountUSDT: "50", AmountUAH: "2100"},
	{Key: "community_3m", Label: "Community — 3 months", Product: ProductCommunity, Months: 3, AmountUSDT: "135", AmountUAH: "5650"},
	{Key: "mentoring", Label: "Mentoring", Product: ProductMentoring, Months: 0, AmountUSDT: "300", AmountUAH: "12500"},
}

// PlanByKey looks a plan up by its callback key.
func PlanByKey(key string) (Plan, error) {
	for _, p := range Plans {
		if p.Key == key {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("unknown plan %q", key)
}
