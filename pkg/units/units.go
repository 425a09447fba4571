// Package units provides the small slice of physical-unit algebra a CCD
// frame needs: parsing unit strings, testing two units for compatibility,
// and producing the conversion factor between compatible units.
package units

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Unit is a physical unit expressed as a scale factor over a product of
// base dimensions raised to integer powers. Two units are compatible when
// their dimension exponents match; the conversion factor is then the ratio
// of their scales.
type Unit struct {
	scale float64
	dims  map[string]int
}

// Dimensionless is the unit of a bare number.
var Dimensionless = Unit{scale: 1}

// Base dimensions used by detector data. Lengths reduce to metres, times
// to seconds; counts (adu, electron, photon, pixel) are each their own
// dimension and never interconvert.
var baseUnits = map[string]Unit{
	"m":        {scale: 1, dims: map[string]int{"m": 1}},
	"km":       {scale: 1e3, dims: map[string]int{"m": 1}},
	"cm":       {scale: 1e-2, dims: map[string]int{"m": 1}},
	"mm":       {scale: 1e-3, dims: map[string]int{"m": 1}},
	"um":       {scale: 1e-6, dims: map[string]int{"m": 1}},
	"micron":   {scale: 1e-6, dims: map[string]int{"m": 1}},
	"nm":       {scale: 1e-9, dims: map[string]int{"m": 1}},
	"angstrom": {scale: 1e-10, dims: map[string]int{"m": 1}},
	"s":        {scale: 1, dims: map[string]int{"s": 1}},
	"ms":       {scale: 1e-3, dims: map[string]int{"s": 1}},
	"min":      {scale: 60, dims: map[string]int{"s": 1}},
	"h":        {scale: 3600, dims: map[string]int{"s": 1}},
	"adu":      {scale: 1, dims: map[string]int{"adu": 1}},
	"electron": {scale: 1, dims: map[string]int{"electron": 1}},
	"photon":   {scale: 1, dims: map[string]int{"photon": 1}},
	"pixel":    {scale: 1, dims: map[string]int{"pixel": 1}},
	"pix":      {scale: 1, dims: map[string]int{"pixel": 1}},
	"Jy":       {scale: 1, dims: map[string]int{"Jy": 1}},
	"mag":      {scale: 1, dims: map[string]int{"mag": 1}},
	"":         Dimensionless,
}

// Parse converts a unit string into a Unit. Supported forms are a single
// symbol ("adu"), products ("adu * pixel" or "adu pixel"), quotients
// ("electron / s"), and integer powers ("m**2", "s2", "s-1").
func Parse(text string) (Unit, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Dimensionless, nil
	}

	result := Dimensionless
	invert := false
	// Tokenize on whitespace, '*' and '/' while remembering whether we are
	// in the denominator.
	tok := strings.Builder{}
	flush := func() error {
		if tok.Len() == 0 {
			return nil
		}
		u, err := parseFactor(tok.String())
		if err != nil {
			return err
		}
		if invert {
			result = result.Div(u)
		} else {
			result = result.Mul(u)
		}
		tok.Reset()
		return nil
	}
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			if err := flush(); err != nil {
				return Unit{}, err
			}
			i++
		case c == '*' && i+1 < len(s) && s[i+1] == '*':
			// power operator, part of the current factor
			tok.WriteString("**")
			i += 2
		case c == '*':
			if err := flush(); err != nil {
				return Unit{}, err
			}
			i++
		case c == '/':
			if err := flush(); err != nil {
				return Unit{}, err
			}
			invert = true
			i++
		default:
			tok.WriteByte(c)
			i++
		}
	}
	if err := flush(); err != nil {
		return Unit{}, err
	}
	return result, nil
}

// MustParse is Parse for unit literals known to be valid.
func MustParse(text string) Unit {
	u, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return u
}

// parseFactor handles a single symbol with an optional integer power:
// "m", "m**2", "m2", "s-1".
func parseFactor(tok string) (Unit, error) {
	sym := tok
	pow := 1
	if idx := strings.Index(tok, "**"); idx >= 0 {
		sym = tok[:idx]
		p, err := strconv.Atoi(tok[idx+2:])
		if err != nil {
			return Unit{}, fmt.Errorf("invalid unit power in %q", tok)
		}
		pow = p
	} else {
		// trailing exponent without '**', as in FITS "s-1"
		j := len(tok)
		for j > 0 && (tok[j-1] >= '0' && tok[j-1] <= '9' || tok[j-1] == '-') {
			j--
		}
		if j < len(tok) && j > 0 {
			p, err := strconv.Atoi(tok[j:])
			if err == nil {
				sym = tok[:j]
				pow = p
			}
		}
	}
	base, ok := baseUnits[sym]
	if !ok {
		return Unit{}, fmt.Errorf("unrecognized unit %q", sym)
	}
	return base.Pow(pow), nil
}

// Mul returns the product unit.
func (u Unit) Mul(v Unit) Unit {
	out := Unit{scale: u.scale * v.scale, dims: map[string]int{}}
	for d, p := range u.dims {
		out.dims[d] += p
	}
	for d, p := range v.dims {
		out.dims[d] += p
	}
	out.prune()
	return out
}

// Div returns the quotient unit.
func (u Unit) Div(v Unit) Unit {
	return u.Mul(v.Pow(-1))
}

// Pow raises the unit to an integer power.
func (u Unit) Pow(n int) Unit {
	out := Unit{scale: math.Pow(u.scale, float64(n)), dims: map[string]int{}}
	for d, p := range u.dims {
		out.dims[d] = p * n
	}
	out.prune()
	return out
}

func (u *Unit) prune() {
	for d, p := range u.dims {
		if p == 0 {
			delete(u.dims, d)
		}
	}
	if len(u.dims) == 0 {
		u.dims = nil
	}
}

// Compatible reports whether a value in u can be expressed in v.
func (u Unit) Compatible(v Unit) bool {
	if len(u.dims) != len(v.dims) {
		return false
	}
	for d, p := range u.dims {
		if v.dims[d] != p {
			return false
		}
	}
	return true
}

// ConversionTo returns the factor that converts a value in u into a value
// in v, or an error if the units are incompatible.
func (u Unit) ConversionTo(v Unit) (float64, error) {
	if !u.Compatible(v) {
		return 0, fmt.Errorf("unit %q is not convertible to %q", u, v)
	}
	return u.scale / v.scale, nil
}

// Equal reports whether two units are identical (same dimensions and same
// scale, so "m" != "cm" even though they are compatible).
func (u Unit) Equal(v Unit) bool {
	return u.Compatible(v) && u.scale == v.scale
}

// IsDimensionless reports whether the unit carries no dimensions at all.
func (u Unit) IsDimensionless() bool {
	return len(u.dims) == 0 && u.scale == 1
}

// String renders the unit in a canonical "a b / c d" form. Scaled units
// that match a known symbol render as that symbol; otherwise the residual
// scale is printed explicitly.
func (u Unit) String() string {
	if len(u.dims) == 0 {
		if u.scale == 1 {
			return ""
		}
		return strconv.FormatFloat(u.scale, 'g', -1, 64)
	}
	if sym, ok := symbolFor(u); ok {
		return sym
	}

	var num, den []string
	dims := make([]string, 0, len(u.dims))
	for d := range u.dims {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	for _, d := range dims {
		p := u.dims[d]
		switch {
		case p == 1:
			num = append(num, d)
		case p > 1:
			num = append(num, fmt.Sprintf("%s%d", d, p))
		case p == -1:
			den = append(den, d)
		default:
			den = append(den, fmt.Sprintf("%s%d", d, -p))
		}
	}
	out := strings.Join(num, " ")
	if out == "" {
		out = "1"
	}
	if u.scale != 1 {
		out = strconv.FormatFloat(u.scale, 'g', -1, 64) + " " + out
	}
	if len(den) > 0 {
		out += " / " + strings.Join(den, " ")
	}
	return out
}

// symbolFor finds a single base symbol exactly equal to u. Several
// spellings can share a base ("pix"/"pixel"); the shortest is the
// canonical one, with a lexical tie-break so the pick is deterministic.
func symbolFor(u Unit) (string, bool) {
	best := ""
	for sym, base := range baseUnits {
		if base.Equal(u) {
			if best == "" || len(sym) < len(best) || (len(sym) == len(best) && sym < best) {
				best = sym
			}
		}
	}
	return best, best != ""
}

// Quantity is a scalar value with a unit.
type Quantity struct {
	Value float64
	Unit  Unit
}

// NewQuantity builds a Quantity from a value and a unit string.
func NewQuantity(value float64, unit string) (Quantity, error) {
	u, err := Parse(unit)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: value, Unit: u}, nil
}

// To converts the quantity into the target unit.
func (q Quantity) To(target Unit) (Quantity, error) {
	factor, err := q.Unit.ConversionTo(target)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: q.Value * factor, Unit: target}, nil
}

func (q Quantity) String() string {
	if s := q.Unit.String(); s != "" {
		return fmt.Sprintf("%g %s", q.Value, s)
	}
	return fmt.Sprintf("%g", q.Value)
}
