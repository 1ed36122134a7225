package domain

import (
	"encoding/json"
	"math"
)

// CartLine is one product entry in a cart. Name is the line's identity.
type CartLine struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	ImageSrc string  `json:"imageSrc,omitempty"`
	AltText  string  `json:"altText,omitempty"`
}

// UnmarshalJSON accepts snapshots written by the previous storefront, which
// keyed lines by "soupName" instead of "name".
func (l *CartLine) UnmarshalJSON(data []byte) error {
	type plain CartLine
	var aux struct {
		plain
		SoupName string `json:"soupName"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*l = CartLine(aux.plain)
	if l.Name == "" {
		l.Name = aux.SoupName
	}
	return nil
}

// Subtotal is price × quantity with a zero quantity counted as one.
func (l CartLine) Subtotal() float64 {
	qty := l.Quantity
	if qty == 0 {
		qty = 1
	}
	return l.Price * float64(qty)
}

// Cart is an ordered sequence of lines, unique by name.
type Cart []CartLine

// IndexOf returns the index of the line named name, or -1.
func (c Cart) IndexOf(name string) int {
	for i := range c {
		if c[i].Name == name {
			return i
		}
	}
	return -1
}

// Find returns the line named name.
func (c Cart) Find(name string) (CartLine, bool) {
	if i := c.IndexOf(name); i >= 0 {
		return c[i], true
	}
	return CartLine{}, false
}

// TotalPrice sums price × quantity over all lines. Missing prices count as
// zero and missing quantities as one.
func (c Cart) TotalPrice() float64 {
	var total float64
	for _, l := range c {
		total += l.Subtotal()
	}
	return total
}

// TotalQuantity sums quantities, missing quantities counting as zero.
func (c Cart) TotalQuantity() int {
	var count int
	for _, l := range c {
		count += l.Quantity
	}
	return count
}

// Clone returns a copy that shares no backing array with c. The result is
// never nil so it serializes as [].
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// Normalize repairs a cart read from storage: lines without a name are
// dropped, repeated names are folded into the first occurrence, and negative
// or non-finite numbers are reset to zero.
func Normalize(c Cart) Cart {
	out := make(Cart, 0, len(c))
	for _, l := range c {
		if l.Name == "" {
			continue
		}
		l.Price = SanitizePrice(l.Price)
		if l.Quantity < 0 {
			l.Quantity = 0
		}
		if i := out.IndexOf(l.Name); i >= 0 {
			out[i].Quantity += l.Quantity
			continue
		}
		out = append(out, l)
	}
	return out
}

// SanitizePrice clamps negative, NaN and infinite prices to zero.
func SanitizePrice(p float64) float64 {
	if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	return p
}
