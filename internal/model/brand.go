package model

import "sort"

type Brand string

const (
	BrandWSWD Brand = "WSWD"
	BrandTA   Brand = "TA"
)

// BrandSet is the set of brands a subscriber opted into.
type BrandSet map[Brand]bool

func NewBrandSet(brands ...Brand) BrandSet {
	s := make(BrandSet, len(brands))
	for _, b := range brands {
		s[b] = true
	}
	return s
}

// List returns the enabled brands in a stable order.
func (s BrandSet) List() []Brand {
	out := make([]Brand, 0, len(s))
	for b, on := range s {
		if on {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
