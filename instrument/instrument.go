package instrument

import (
	"fmt"
	"strings"
)

// Kind defines the market a traded pair belongs to.
type Kind string

const (
	Spot   Kind = "spot"
	Future Kind = "future"
)

// Symbol is a lower-cased currency identifier. Construct it with NewSymbol so
// that equality and map keys are case-insensitive without normalising on every
// comparison.
type Symbol string

// NewSymbol lower-cases and trims the provided identifier.
func NewSymbol(s string) Symbol {
	return Symbol(strings.ToLower(strings.TrimSpace(s)))
}

func (s Symbol) String() string { return string(s) }

// Instrument identifies a traded pair on a given market kind. Values are
// comparable and usable as map keys.
type Instrument struct {
	Base  Symbol
	Quote Symbol
	Kind  Kind
}

// New builds an Instrument, normalising both symbols.
func New(base, quote string, kind Kind) Instrument {
	return Instrument{
		Base:  NewSymbol(base),
		Quote: NewSymbol(quote),
		Kind:  kind,
	}
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s_%s_%s", i.Base, i.Quote, i.Kind)
}
