// Package units holds the fixed unit-of-measure table used to bring quantities
// into a canonical unit per family before they are compared.
package units

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Family groups units that can be converted into each other
type Family string

const (
	FamilyLength  Family = "length"
	FamilyMass    Family = "mass"
	FamilyCount   Family = "count"
	FamilyVolume  Family = "volume"
	FamilyUnknown Family = ""
)

// Unit describes one recognised unit and its factor to the family's canonical unit
type Unit struct {
	Symbol    string
	Family    Family
	Canonical string
	Factor    decimal.Decimal
}

var table = map[string]Unit{}

func register(family Family, canonical string, factor string, symbols ...string) {
	f := decimal.RequireFromString(factor)
	for _, s := range symbols {
		table[s] = Unit{Symbol: s, Family: family, Canonical: canonical, Factor: f}
	}
}

func init() {
	register(FamilyLength, "M", "0.001", "MM")
	register(FamilyLength, "M", "0.01", "CM")
	register(FamilyLength, "M", "1", "M")
	register(FamilyLength, "M", "1000", "KM")
	register(FamilyLength, "M", "0.0254", "IN")
	register(FamilyLength, "M", "0.3048", "FT")

	register(FamilyMass, "KG", "0.001", "G")
	register(FamilyMass, "KG", "1", "KG")
	register(FamilyMass, "KG", "1000", "T")
	register(FamilyMass, "KG", "0.45359237", "LB")

	register(FamilyCount, "EA", "1", "EA", "PC", "PCS", "NOS", "NO", "UNIT", "SET")

	register(FamilyVolume, "L", "0.001", "ML")
	register(FamilyVolume, "L", "1", "L")
}

// Canon trims and upper-cases a unit symbol. A trailing period is dropped, so
// "Nos." and "NOS" are the same unit.
func Canon(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(symbol)), ".")
}

// Lookup returns the table entry for symbol
func Lookup(symbol string) (Unit, bool) {
	u, ok := table[Canon(symbol)]
	return u, ok
}

// IsUnit reports whether symbol is a recognised unit token
func IsUnit(symbol string) bool {
	_, ok := Lookup(symbol)
	return ok
}

// Convert expresses value in the canonical unit of symbol's family. The
// second result is false when the unit is not in the table, in which case the
// value and the upper-cased symbol are returned unchanged.
func Convert(value decimal.Decimal, symbol string) (decimal.Decimal, string, Family, bool) {
	u, ok := Lookup(symbol)
	if !ok {
		return value, Canon(symbol), FamilyUnknown, false
	}
	return value.Mul(u.Factor), u.Canonical, u.Family, true
}
