package validate

import (
	"regexp"
	"strings"
)

var (
	reEmail = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	reID    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 10000

var paymentMethods = map[string]bool{"cash": true, "card": true, "ewallet": true, "transfer": true}

func Email(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 254 {
		return "", false
	}
	return s, reEmail.MatchString(s)
}

// ID validates a resource identifier (product, material, queue entry ids).
func ID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reID.MatchString(s)
}

// Quantity accepts whole units between 1 and MaxLineQuantity.
func Quantity(n int64) bool { return n >= 1 && n <= MaxLineQuantity }

// MaxRestock caps one stock adjustment, in thousandths of a unit.
const MaxRestock = 1_000_000_000

// Restock accepts a non-zero adjustment within MaxRestock either way.
func Restock(milli int64) bool { return milli != 0 && milli >= -MaxRestock && milli <= MaxRestock }

// PaymentMethod normalizes to lower case and checks the allowed set.
func PaymentMethod(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, paymentMethods[s]
}

// Name validates a displayable name with a reasonable max length.
func Name(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 80 {
		return "", false
	}
	return s, true
}

// Password enforces a simple length window for login checks.
func Password(s string) bool {
	l := len(s)
	if l < 8 || l > 64 {
		return false
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z':
			hasLower = true
		case 'A' <= r && r <= 'Z':
			hasUpper = true
		case '0' <= r && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	return hasLower && hasUpper && hasDigit && hasSymbol
}
