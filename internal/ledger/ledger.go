// Package ledger computes stock movements for a sale without touching storage.
//
// Product stock is a whole unit count. Material stock is fractional and kept
// as Qty, an integer count of thousandths, so repeated consumption never
// drifts.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// QtyScale is the number of Qty units in one whole unit of measure.
const QtyScale = 1000

// Qty is a material quantity in thousandths of its unit of measure.
type Qty int64

var ErrOverflow = errors.New("ledger: quantity overflow")

// Units converts a whole number of units to a Qty.
func Units(n int64) Qty { return Qty(n * QtyScale) }

// QtyFromFloat rounds f to the nearest thousandth.
func QtyFromFloat(f float64) Qty { return Qty(math.Round(f * QtyScale)) }

// ParseQty reads a decimal string with at most three fractional digits.
func ParseQty(s string) (Qty, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || (hasDot && frac == "") || len(frac) > 3 || !digits(whole) || !digits(frac) {
		return 0, fmt.Errorf("ledger: invalid quantity %q", s)
	}
	frac += strings.Repeat("0", 3-len(frac))
	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger: invalid quantity %q", s)
	}
	if neg {
		n = -n
	}
	return Qty(n), nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String renders q without trailing fractional zeros: 30000 -> "30", 1500 -> "1.5".
func (q Qty) String() string {
	sign := ""
	v := int64(q)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole, frac := v/QtyScale, v%QtyScale
	if frac == 0 {
		return sign + strconv.FormatInt(whole, 10)
	}
	f := strings.TrimRight(fmt.Sprintf("%03d", frac), "0")
	return sign + strconv.FormatInt(whole, 10) + "." + f
}

func (q Qty) Float() float64 { return float64(q) / QtyScale }

// Line is one cart line as far as stock is concerned.
type Line struct {
	ProductID string
	Quantity  int64
}

// RecipeLine is the amount of one material consumed per unit of a product.
type RecipeLine struct {
	MaterialID string
	PerUnit    Qty
}

// Recipes maps product id to its ordered recipe. A product with no entry
// consumes no tracked material.
type Recipes map[string][]RecipeLine

// ProductNeed is the total quantity requested for one product.
type ProductNeed struct {
	ProductID string
	Quantity  int64
}

// MaterialNeed is the total quantity required of one material.
type MaterialNeed struct {
	MaterialID string
	Required   Qty
}

// ProductDemand sums quantities per distinct product, in order of first
// appearance.
func ProductDemand(lines []Line) ([]ProductNeed, error) {
	idx := make(map[string]int, len(lines))
	var out []ProductNeed
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("ledger: quantity for %s must be positive", l.ProductID)
		}
		i, ok := idx[l.ProductID]
		if !ok {
			idx[l.ProductID] = len(out)
			out = append(out, ProductNeed{ProductID: l.ProductID, Quantity: l.Quantity})
			continue
		}
		if out[i].Quantity > math.MaxInt64-l.Quantity {
			return nil, ErrOverflow
		}
		out[i].Quantity += l.Quantity
	}
	return out, nil
}

// MaterialDemand sums per-unit consumption times line quantity per distinct
// material across all lines, in order of first appearance.
func MaterialDemand(lines []Line, recipes Recipes) ([]MaterialNeed, error) {
	idx := map[string]int{}
	var out []MaterialNeed
	for _, l := range lines {
		for _, r := range recipes[l.ProductID] {
			if r.PerUnit < 0 {
				return nil, fmt.Errorf("ledger: negative recipe quantity for %s", r.MaterialID)
			}
			need := int64(r.PerUnit) * l.Quantity
			if l.Quantity != 0 && need/l.Quantity != int64(r.PerUnit) {
				return nil, ErrOverflow
			}
			i, ok := idx[r.MaterialID]
			if !ok {
				idx[r.MaterialID] = len(out)
				out = append(out, MaterialNeed{MaterialID: r.MaterialID, Required: Qty(need)})
				continue
			}
			if int64(out[i].Required) > math.MaxInt64-need {
				return nil, ErrOverflow
			}
			out[i].Required += Qty(need)
		}
	}
	return out, nil
}

// Sufficient reports whether taking required from available leaves a
// non-negative balance.
func Sufficient(available, required int64) bool { return available-required >= 0 && required >= 0 }

// MarshalJSON writes q as a plain decimal number so payloads read naturally.
func (q Qty) MarshalJSON() ([]byte, error) { return []byte(q.String()), nil }

func (q *Qty) UnmarshalJSON(b []byte) error {
	v, err := ParseQty(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*q = v
	return nil
}
