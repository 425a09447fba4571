package ccdframe

import (
	"fmt"
	"sort"

	"github.com/astrogo/fitsio"
)

// FITS card limits. A keyword is at most 8 characters; a string value must
// fit the remainder of an 80-character card.
const (
	maxKeyLen   = 8
	maxValueLen = 68
)

// shortNames maps the long autolog keywords emitted by reduction steps to
// FITS-compliant short aliases. A keyword in this table tends to come with
// an over-length value as well, and FITS has no convention for a long key
// and a long value on the same card, so the pair is stored as two cards
// (see Header.SetFITSSafe).
var shortNames = map[string]string{
	"background_deviation_box":    "bakdevbx",
	"background_deviation_filter": "bakdfilt",
	"cosmicray_median":            "crmedian",
	"create_deviation":            "creatvar",
	"flat_correct":                "flatcor",
	"gain_correct":                "gaincor",
	"subtract_bias":               "subbias",
	"subtract_dark":               "subdark",
	"subtract_overscan":           "suboscan",
	"trim_image":                  "trimim",
}

// Header is an ordered keyword -> (value, comment) store, the in-memory
// form of a FITS header. Keys keep their insertion order; Set updates in
// place so a key never appears twice.
type Header struct {
	cards []fitsio.Card
	index map[string]int
}

// NewHeader returns an empty header.
func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

// HeaderFromCards builds a header from existing cards, last occurrence of
// a repeated key winning in place.
func HeaderFromCards(cards []fitsio.Card) *Header {
	h := NewHeader()
	for _, c := range cards {
		h.SetCard(c)
	}
	return h
}

// HeaderFromMap builds a header from a plain map. Map iteration order is
// not stable, so keys are sorted to keep the result deterministic.
func HeaderFromMap(m map[string]interface{}) *Header {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := NewHeader()
	for _, k := range keys {
		h.SetFITSSafe(k, m[k])
	}
	return h
}

// Set stores value under key, updating in place if the key exists.
func (h *Header) Set(key string, value interface{}, comment string) {
	h.SetCard(fitsio.Card{Name: key, Value: value, Comment: comment})
}

// SetCard stores a card, updating in place if its key exists.
func (h *Header) SetCard(c fitsio.Card) {
	if i, ok := h.index[c.Name]; ok {
		h.cards[i] = c
		return
	}
	h.index[c.Name] = len(h.cards)
	h.cards = append(h.cards, c)
}

// Get returns the card for key, or nil.
func (h *Header) Get(key string) *fitsio.Card {
	if i, ok := h.index[key]; ok {
		return &h.cards[i]
	}
	return nil
}

// Value returns the value for key, or nil if absent.
func (h *Header) Value(key string) interface{} {
	if c := h.Get(key); c != nil {
		return c.Value
	}
	return nil
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.index[key]
	return ok
}

// Delete removes key if present.
func (h *Header) Delete(key string) {
	i, ok := h.index[key]
	if !ok {
		return
	}
	h.cards = append(h.cards[:i], h.cards[i+1:]...)
	delete(h.index, key)
	for k, j := range h.index {
		if j > i {
			h.index[k] = j - 1
		}
	}
}

// Keys returns all keys in insertion order.
func (h *Header) Keys() []string {
	keys := make([]string, len(h.cards))
	for i, c := range h.cards {
		keys[i] = c.Name
	}
	return keys
}

// Cards returns a copy of the cards in order.
func (h *Header) Cards() []fitsio.Card {
	out := make([]fitsio.Card, len(h.cards))
	copy(out, h.cards)
	return out
}

// Len returns the number of cards.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.cards)
}

// Copy returns an independent copy of the header.
func (h *Header) Copy() *Header {
	if h == nil {
		return nil
	}
	return HeaderFromCards(h.cards)
}

// Merge folds other's cards into h, updating in place on key collisions
// rather than appending duplicates.
func (h *Header) Merge(other *Header) {
	if other == nil {
		return
	}
	for _, c := range other.cards {
		h.SetCard(c)
	}
}

// SetFITSSafe stores (key, value) so that no single card violates the FITS
// key-length limit. A key from the long autolog set is replaced by its
// short alias: the original key gets a card holding the alias (so the long
// name stays recoverable), and the value is stored under the alias.
// Everything else is stored directly.
func (h *Header) SetFITSSafe(key string, value interface{}) {
	if short, ok := shortNames[key]; ok {
		h.Set(key, short, "Shortened keyword for reduction log entry")
		h.Set(short, value, "")
		return
	}
	h.Set(key, value, "")
}

// Validate reports the first card whose key or string value exceeds the
// FITS limits. Long autolog keys are exempt: SetFITSSafe has moved their
// values onto short-alias cards, and the serialization bridge folds the
// long keyword into the alias card's comment instead of emitting it.
func (h *Header) Validate() error {
	for _, c := range h.cards {
		if len(c.Name) > maxKeyLen {
			if _, ok := shortNames[c.Name]; ok {
				continue
			}
			return fmt.Errorf("header key %q exceeds %d characters", c.Name, maxKeyLen)
		}
		if s, ok := c.Value.(string); ok && len(s) > maxValueLen {
			return fmt.Errorf("header value for %q exceeds %d characters", c.Name, maxValueLen)
		}
	}
	return nil
}
