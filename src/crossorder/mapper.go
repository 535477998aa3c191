// Package crossorder converts orders between paired instruments of different
// contract denomination, e.g. an E-mini and its micro counterpart.
package crossorder

import (
	"math"
	"strings"
)

// Pair links two differently denominated contracts of the same underlying.
// QuantityRatio is expressed mini:micro, so 1 mini equals QuantityRatio
// micros.
type Pair struct {
	MiniSymbol    string
	MicroSymbol   string
	QuantityRatio float64
	Description   string
}

// Mapper is an immutable registry of instrument pairs. Build one at startup
// and inject it wherever conversion is needed.
type Mapper struct {
	byMini  map[string]Pair
	byMicro map[string]Pair
	pairs   []Pair
}

// DefaultPairs returns the built-in mini/micro table for the common futures
// complexes.
func DefaultPairs() []Pair {
	return []Pair{
		// Equity index
		{MiniSymbol: "ES", MicroSymbol: "MES", QuantityRatio: 10, Description: "E-mini S&P 500"},
		{MiniSymbol: "NQ", MicroSymbol: "MNQ", QuantityRatio: 10, Description: "E-mini NASDAQ 100"},
		{MiniSymbol: "YM", MicroSymbol: "MYM", QuantityRatio: 10, Description: "E-mini Dow"},
		{MiniSymbol: "RTY", MicroSymbol: "M2K", QuantityRatio: 10, Description: "E-mini Russell 2000"},
		// Energy
		{MiniSymbol: "CL", MicroSymbol: "MCL", QuantityRatio: 10, Description: "Crude Oil"},
		{MiniSymbol: "NG", MicroSymbol: "QG", QuantityRatio: 4, Description: "Natural Gas"},
		{MiniSymbol: "RB", MicroSymbol: "QU", QuantityRatio: 2, Description: "RBOB Gasoline"},
		{MiniSymbol: "HO", MicroSymbol: "QH", QuantityRatio: 2, Description: "Heating Oil"},
		// Metals
		{MiniSymbol: "GC", MicroSymbol: "MGC", QuantityRatio: 10, Description: "Gold"},
		{MiniSymbol: "SI", MicroSymbol: "SIL", QuantityRatio: 5, Description: "Silver"},
		// FX futures
		{MiniSymbol: "6E", MicroSymbol: "M6E", QuantityRatio: 8, Description: "Euro FX"},
		{MiniSymbol: "6J", MicroSymbol: "M6J", QuantityRatio: 8, Description: "Japanese Yen"},
		{MiniSymbol: "6A", MicroSymbol: "M6A", QuantityRatio: 8, Description: "Australian Dollar"},
		{MiniSymbol: "6B", MicroSymbol: "M6B", QuantityRatio: 8, Description: "British Pound"},
		{MiniSymbol: "6C", MicroSymbol: "M6C", QuantityRatio: 8, Description: "Canadian Dollar"},
		{MiniSymbol: "6S", MicroSymbol: "M6S", QuantityRatio: 8, Description: "Swiss Franc"},
		// Grains
		{MiniSymbol: "ZS", MicroSymbol: "YK", QuantityRatio: 10, Description: "Soybeans"},
		{MiniSymbol: "ZC", MicroSymbol: "XC", QuantityRatio: 10, Description: "Corn"},
		{MiniSymbol: "ZW", MicroSymbol: "YW", QuantityRatio: 10, Description: "Wheat"},
		// Eurex
		{MiniSymbol: "FDAX", MicroSymbol: "FDXM", QuantityRatio: 5, Description: "DAX"},
		{MiniSymbol: "FESX", MicroSymbol: "FSXE", QuantityRatio: 10, Description: "Euro Stoxx 50"},
	}
}

// NewMapper builds a registry from the given pairs. A later pair with the
// same mini symbol replaces an earlier one.
func NewMapper(pairs ...Pair) *Mapper {
	m := &Mapper{
		byMini:  make(map[string]Pair, len(pairs)),
		byMicro: make(map[string]Pair, len(pairs)),
	}
	for _, p := range pairs {
		if p.MiniSymbol == "" || p.MicroSymbol == "" || p.QuantityRatio <= 0 {
			continue
		}
		m.byMini[strings.ToUpper(p.MiniSymbol)] = p
		m.byMicro[strings.ToUpper(p.MicroSymbol)] = p
		m.pairs = append(m.pairs, p)
	}
	return m
}

// NewDefaultMapper builds a registry with the built-in pair table.
func NewDefaultMapper() *Mapper {
	return NewMapper(DefaultPairs()...)
}

// Pairs returns a copy of the registered pairs.
func (m *Mapper) Pairs() []Pair {
	out := make([]Pair, len(m.pairs))
	copy(out, m.pairs)
	return out
}

// CanConvert reports whether source and target are two sides of a registered
// pair. Contract month suffixes are ignored.
func (m *Mapper) CanConvert(source, target string) bool {
	sourceBase := BaseSymbol(source)
	targetBase := BaseSymbol(target)

	if pair, ok := m.byMini[strings.ToUpper(sourceBase)]; ok {
		return strings.EqualFold(pair.MicroSymbol, targetBase)
	}
	if pair, ok := m.byMicro[strings.ToUpper(sourceBase)]; ok {
		return strings.EqualFold(pair.MiniSymbol, targetBase)
	}
	return false
}

// Ratio returns the multiplier converting a source quantity into a target
// quantity: mini to micro multiplies by the pair ratio, micro to mini
// divides. Unknown conversions return 1.
func (m *Mapper) Ratio(source, target string) float64 {
	sourceBase := BaseSymbol(source)
	targetBase := BaseSymbol(target)

	if pair, ok := m.byMini[strings.ToUpper(sourceBase)]; ok {
		if strings.EqualFold(pair.MicroSymbol, targetBase) {
			return pair.QuantityRatio
		}
	}
	if pair, ok := m.byMicro[strings.ToUpper(sourceBase)]; ok {
		if strings.EqualFold(pair.MiniSymbol, targetBase) {
			return 1.0 / pair.QuantityRatio
		}
	}
	return 1.0
}

// ConvertQuantity rescales a quantity across a pair, rounding to the nearest
// contract with a floor of one.
func (m *Mapper) ConvertQuantity(quantity int, source, target string) int {
	converted := int(math.Round(float64(quantity) * m.Ratio(source, target)))
	if converted < 1 {
		return 1
	}
	return converted
}

// ConversionTarget returns the base symbol of the other side of the pair the
// given symbol belongs to, or "" when the symbol is not registered.
func (m *Mapper) ConversionTarget(symbol string) string {
	base := strings.ToUpper(BaseSymbol(symbol))
	if pair, ok := m.byMini[base]; ok {
		return pair.MicroSymbol
	}
	if pair, ok := m.byMicro[base]; ok {
		return pair.MiniSymbol
	}
	return ""
}

// TargetInstrument rewrites a full instrument name onto the target base
// symbol, preserving the contract month suffix: "NQ 03-26" with target "MNQ"
// becomes "MNQ 03-26".
func (m *Mapper) TargetInstrument(instrument, targetSymbol string) string {
	if instrument == "" || targetSymbol == "" {
		return instrument
	}
	if idx := strings.Index(instrument, " "); idx > 0 {
		return targetSymbol + instrument[idx:]
	}
	return targetSymbol
}

// IsMini reports whether the symbol is the mini side of a registered pair.
func (m *Mapper) IsMini(symbol string) bool {
	_, ok := m.byMini[strings.ToUpper(BaseSymbol(symbol))]
	return ok
}

// IsMicro reports whether the symbol is the micro side of a registered pair.
func (m *Mapper) IsMicro(symbol string) bool {
	_, ok := m.byMicro[strings.ToUpper(BaseSymbol(symbol))]
	return ok
}

// BaseSymbol strips the contract month suffix: "NQ 03-26" -> "NQ".
func BaseSymbol(fullSymbol string) string {
	if idx := strings.Index(fullSymbol, " "); idx > 0 {
		return fullSymbol[:idx]
	}
	return fullSymbol
}
