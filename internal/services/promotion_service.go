package services

import (
	"errors"
	"strings"

	domain "github.com/courseloft/api/internal/domain"
)

var (
	// ErrPromoInvalidFormat indicates the submitted code is malformed.
	ErrPromoInvalidFormat = errors.New("promotion: invalid code format")
	// ErrPromoUnknownCode indicates the code does not exist in the registry.
	ErrPromoUnknownCode = errors.New("promotion: unknown code")
	// ErrPromoNotApplicable indicates a known code that matches none of the cart items.
	ErrPromoNotApplicable = errors.New("promotion: code not applicable to cart")
	// ErrPromoNotRedemption indicates a marketing code was submitted on the redemption path.
	ErrPromoNotRedemption = errors.New("promotion: not a redemption code")
)

type promotionService struct {
	registry map[string]domain.PromoCode
}

var _ PromotionService = (*promotionService)(nil)

// NewPromotionService builds the resolver from the static marketing codes and
// the redemption table. Redemption codes become 100%-off single-item entries
// in the same namespace, flagged so order records can distinguish them.
func NewPromotionService(codes []domain.PromoCode, redemptions map[string]string) (PromotionService, error) {
	registry := make(map[string]domain.PromoCode, len(codes)+len(redemptions))

	for _, code := range codes {
		key := normalizeCode(code.Code)
		if key == "" {
			return nil, errors.New("promotion service: empty code in registry")
		}
		code.Code = key
		registry[key] = code
	}

	for raw, itemID := range redemptions {
		key := normalizeCode(raw)
		item := strings.TrimSpace(itemID)
		if key == "" || item == "" {
			return nil, errors.New("promotion service: invalid redemption entry")
		}
		registry[key] = domain.PromoCode{
			Code:               key,
			PercentageDiscount: 100,
			AllowedItemIDs:     []string{item},
			Redemption:         true,
		}
	}

	return &promotionService{registry: registry}, nil
}

// Resolve validates the submitted code against the registry and the cart.
// A known code whose allow-list matches no cart item is rejected distinctly
// from an unknown code; callers must still check AppliesTo per item, since a
// code may cover only part of the cart.
func (s *promotionService) Resolve(rawCode string, cartItemIDs []string) (domain.PromoCode, error) {
	trimmed := strings.TrimSpace(rawCode)
	if len(trimmed) < 3 || !isAlphanumeric(trimmed) {
		return domain.PromoCode{}, ErrPromoInvalidFormat
	}

	code, ok := s.registry[strings.ToUpper(trimmed)]
	if !ok {
		return domain.PromoCode{}, ErrPromoUnknownCode
	}

	if len(code.AllowedItemIDs) > 0 {
		matched := false
		for _, itemID := range cartItemIDs {
			if code.AppliesTo(itemID) {
				matched = true
				break
			}
		}
		if !matched {
			return domain.PromoCode{}, ErrPromoNotApplicable
		}
	}

	return code, nil
}

// ResolveRedemption looks up a redemption code without cart scoping. The
// code's single allowed item is the item being redeemed.
func (s *promotionService) ResolveRedemption(rawCode string) (domain.PromoCode, error) {
	trimmed := strings.TrimSpace(rawCode)
	if len(trimmed) < 3 || !isAlphanumeric(trimmed) {
		return domain.PromoCode{}, ErrPromoInvalidFormat
	}

	code, ok := s.registry[strings.ToUpper(trimmed)]
	if !ok {
		return domain.PromoCode{}, ErrPromoUnknownCode
	}
	if !code.Redemption || len(code.AllowedItemIDs) != 1 {
		return domain.PromoCode{}, ErrPromoNotRedemption
	}
	return code, nil
}

func normalizeCode(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < 3 || !isAlphanumeric(trimmed) {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func isAlphanumeric(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
