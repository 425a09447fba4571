// Package wcs carries a world-coordinate-system description between FITS
// headers and in-memory frames. The mapping itself is opaque: it is read
// from header cards, held, compared, and written back. No projection
// mathematics lives here.
package wcs

import (
	"fmt"

	"github.com/astrogo/fitsio"
)

// maxAxes bounds how many WCS axes we look for in a header.
const maxAxes = 4

// Axis holds the per-axis linear WCS description.
type Axis struct {
	CType string  // axis type / projection descriptor, e.g. "RA---TAN"
	CUnit string  // unit of the world coordinate
	CRPix float64 // reference pixel (1-based, FITS convention)
	CRVal float64 // world coordinate at the reference pixel
	CDelt float64 // world increment per pixel
}

// WCS is a linear FITS world coordinate system for up to maxAxes axes.
type WCS struct {
	NAxes  int
	Axes   [maxAxes]Axis
	Rot    float64 // CROTA2, degrees
	HasRot bool
}

// FromHeader builds a WCS from header cards. Missing keys simply leave
// fields zero; this never fails. Callers should check Usable before
// treating the result as a real mapping.
func FromHeader(cards []fitsio.Card) *WCS {
	w := &WCS{}
	get := func(name string) (interface{}, bool) {
		for _, c := range cards {
			if c.Name == name {
				return c.Value, true
			}
		}
		return nil, false
	}

	if v, ok := get("WCSAXES"); ok {
		w.NAxes = toInt(v)
	}
	for i := 0; i < maxAxes; i++ {
		n := i + 1
		ax := &w.Axes[i]
		found := false
		if v, ok := get(fmt.Sprintf("CTYPE%d", n)); ok {
			ax.CType = toString(v)
			found = true
		}
		if v, ok := get(fmt.Sprintf("CUNIT%d", n)); ok {
			ax.CUnit = toString(v)
			found = true
		}
		if v, ok := get(fmt.Sprintf("CRPIX%d", n)); ok {
			ax.CRPix = toFloat(v)
			found = true
		}
		if v, ok := get(fmt.Sprintf("CRVAL%d", n)); ok {
			ax.CRVal = toFloat(v)
			found = true
		}
		if v, ok := get(fmt.Sprintf("CDELT%d", n)); ok {
			ax.CDelt = toFloat(v)
			found = true
		}
		if found && w.NAxes < n {
			w.NAxes = n
		}
	}
	if v, ok := get("CROTA2"); ok {
		w.Rot = toFloat(v)
		w.HasRot = true
	}
	return w
}

// Usable reports whether the mapping is non-trivial: the first axis must
// carry a type descriptor.
func (w *WCS) Usable() bool {
	return w != nil && w.NAxes > 0 && w.Axes[0].CType != ""
}

// ToHeader exports the mapping as FITS cards in a fixed key order.
func (w *WCS) ToHeader() []fitsio.Card {
	if w == nil {
		return nil
	}
	cards := []fitsio.Card{
		{Name: "WCSAXES", Value: w.NAxes, Comment: "number of WCS axes"},
	}
	for i := 0; i < w.NAxes && i < maxAxes; i++ {
		n := i + 1
		ax := w.Axes[i]
		cards = append(cards,
			fitsio.Card{Name: fmt.Sprintf("CTYPE%d", n), Value: ax.CType, Comment: "axis type"},
			fitsio.Card{Name: fmt.Sprintf("CRPIX%d", n), Value: ax.CRPix, Comment: "reference pixel"},
			fitsio.Card{Name: fmt.Sprintf("CRVAL%d", n), Value: ax.CRVal, Comment: "world value at ref pixel"},
			fitsio.Card{Name: fmt.Sprintf("CDELT%d", n), Value: ax.CDelt, Comment: "world increment per pixel"},
		)
		if ax.CUnit != "" {
			cards = append(cards, fitsio.Card{Name: fmt.Sprintf("CUNIT%d", n), Value: ax.CUnit, Comment: "axis unit"})
		}
	}
	if w.HasRot {
		cards = append(cards, fitsio.Card{Name: "CROTA2", Value: w.Rot, Comment: "rotation angle (deg)"})
	}
	return cards
}

// Copy returns an independent copy.
func (w *WCS) Copy() *WCS {
	if w == nil {
		return nil
	}
	out := *w
	return &out
}

// Equal reports whether two mappings describe the same transform.
func (w *WCS) Equal(other *WCS) bool {
	if w == nil || other == nil {
		return w == other
	}
	return *w == *other
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}

func toInt(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	}
	return 0
}
