package conversion

import "github.com/shopspring/decimal"

const (
	attributionKeyLength = 24
	maxOfferIDLength     = 50
)

// ValidAttributionKey reports whether key is exactly 24 alphanumeric
// characters.
func ValidAttributionKey(key string) bool {
	if len(key) != attributionKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if !isAlphanumeric(c) {
			return false
		}
	}
	return true
}

// ValidOfferID reports whether id is 1-50 characters of [a-zA-Z0-9_-].
func ValidOfferID(id string) bool {
	if len(id) == 0 || len(id) > maxOfferIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !isAlphanumeric(c) && c != '_' && c != '-' {
			return false
		}
	}
	return true
}

// ParseAmount parses raw into a positive fixed-point decimal. The second
// return value is false when raw does not parse or is not strictly positive.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	if !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}

func isAlphanumeric(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
