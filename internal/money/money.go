// Package money holds fixed-point currency amounts. Values are kept in the
// smallest currency unit; decimal text only exists at the presentation edge.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Amount is an integer count of the smallest currency unit.
type Amount int64

var (
	ErrOverflow = errors.New("money: overflow")
	ErrSyntax   = errors.New("money: invalid amount")
)

func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	if b == math.MinInt64 {
		return 0, ErrOverflow
	}
	return a.Add(-b)
}

// Mul multiplies by a whole quantity.
func (a Amount) Mul(n int64) (Amount, error) {
	if a == 0 || n == 0 {
		return 0, nil
	}
	p := int64(a) * n
	if p/n != int64(a) || (a == -1 && n == math.MinInt64) || (n == -1 && a == math.MinInt64) {
		return 0, ErrOverflow
	}
	return Amount(p), nil
}

// Sum adds amounts left to right, failing on the first overflow.
func Sum(xs ...Amount) (Amount, error) {
	var total Amount
	for _, x := range xs {
		var err error
		if total, err = total.Add(x); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Parse reads a decimal string such as "180.50" into an Amount with the
// given number of minor digits.
func Parse(s string, scale int) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || scale < 0 || scale > 6 {
		return 0, ErrSyntax
	}
	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || (hasDot && frac == "") || len(frac) > scale || !digits(whole) || !digits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	frac += strings.Repeat("0", scale-len(frac))
	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, ErrOverflow
		}
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if neg {
		n = -n
	}
	return Amount(n), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Decimal renders the amount with scale minor digits and no grouping.
func (a Amount) Decimal(scale int) string {
	if scale <= 0 {
		return strconv.FormatInt(int64(a), 10)
	}
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= scale {
		s = strings.Repeat("0", scale-len(s)+1) + s
	}
	return sign + s[:len(s)-scale] + "." + s[len(s)-scale:]
}

// Display formats the amount for a receipt or screen in the given locale.
// Digits come from the integer value, so large amounts stay exact.
func (a Amount) Display(tag language.Tag, scale int) string {
	p := message.NewPrinter(tag)
	if scale <= 0 {
		return p.Sprintf("%d", int64(a))
	}
	sign := ""
	u := uint64(a)
	if a < 0 {
		sign = "-"
		u = uint64(-(a + 1)) + 1
	}
	pow := uint64(1)
	for range scale {
		pow *= 10
	}
	return sign + p.Sprintf("%d", u/pow) + decimalSep(p) + fmt.Sprintf("%0*d", scale, u%pow)
}

func decimalSep(p *message.Printer) string {
	s := p.Sprint(number.Decimal(1.5, number.Scale(1)))
	return strings.TrimSuffix(strings.TrimPrefix(s, "1"), "5")
}
