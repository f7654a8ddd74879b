package validate

import "strconv"

// MemoryUnit is the unit a memory limit is entered and displayed in.
type MemoryUnit string

const (
	UnitBytes MemoryUnit = "Bytes"
	UnitKB    MemoryUnit = "KB"
	UnitMB    MemoryUnit = "MB"
	UnitGB    MemoryUnit = "GB"
)

// Units lists all memory units from smallest to largest.
func Units() []MemoryUnit {
	return []MemoryUnit{UnitBytes, UnitKB, UnitMB, UnitGB}
}

// ParseUnit matches a unit name case-sensitively.
func ParseUnit(s string) (MemoryUnit, bool) {
	switch MemoryUnit(s) {
	case UnitBytes, UnitKB, UnitMB, UnitGB:
		return MemoryUnit(s), true
	}
	return "", false
}

func (u MemoryUnit) multiplier() float64 {
	switch u {
	case UnitKB:
		return 1024
	case UnitMB:
		return 1024 * 1024
	case UnitGB:
		return 1024 * 1024 * 1024
	default:
		return 1
	}
}

// ToBytes converts a value in this unit to bytes, truncating toward zero.
func (u MemoryUnit) ToBytes(value float64) uint64 {
	return uint64(value * u.multiplier())
}

// FromBytes converts a byte count into this unit.
func (u MemoryUnit) FromBytes(bytes uint64) float64 {
	return float64(bytes) / u.multiplier()
}

// FormatFromBytes renders a byte count in this unit the way the editor
// displays it: no exponent, no trailing zeros ("512", "0.5").
func (u MemoryUnit) FormatFromBytes(bytes uint64) string {
	return strconv.FormatFloat(u.FromBytes(bytes), 'f', -1, 64)
}
