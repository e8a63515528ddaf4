package services

import (
	domain "github.com/courseloft/api/internal/domain"
)

// ComputePrice derives the final charge for a single item. An item-allowed
// promo code takes precedence over any active sale; within a sale, a per-item
// override price beats the global percentage. Percentage discounts round to
// the nearest minor unit. The result is never negative.
func ComputePrice(basePrice int64, itemID string, pctx PricingContext) int64 {
	if basePrice < 0 {
		basePrice = 0
	}

	if pctx.Promo != nil && pctx.Promo.AppliesTo(itemID) {
		return applyPercentage(basePrice, pctx.Promo.PercentageDiscount)
	}

	if pctx.Sale.Active {
		if override, ok := pctx.Sale.OverrideFor(itemID); ok {
			if override < 0 {
				return 0
			}
			return override
		}
		return applyPercentage(basePrice, pctx.Sale.GlobalDiscountPercentage)
	}

	return basePrice
}

// PriceCart applies ComputePrice to every item and sums the result.
func PriceCart(items []domain.CatalogItem, pctx PricingContext) PricedCart {
	cart := PricedCart{Items: make([]PricedItem, 0, len(items))}
	for _, item := range items {
		price := ComputePrice(item.BasePrice, item.ID, pctx)
		cart.Items = append(cart.Items, PricedItem{Item: item, UnitPrice: price})
		cart.Total += price
	}
	return cart
}

func applyPercentage(basePrice int64, pct int) int64 {
	if pct <= 0 {
		return basePrice
	}
	if pct >= 100 {
		return 0
	}
	// Integer round-half-up of basePrice * (100-pct) / 100.
	return (basePrice*int64(100-pct) + 50) / 100
}
