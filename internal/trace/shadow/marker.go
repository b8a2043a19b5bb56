package shadow

// Marker is a single shadow byte.
type Marker = uint8

// Fixed byte values of the shadow encoding. Active block markers are their
// historic counterparts with HistoricBit set.
const (
	// Addressable marks a fully accessible byte. Values 0x01..0x07 mark a
	// byte run whose first N bytes are accessible.
	Addressable Marker = 0x00

	// MaxPartialBytes bounds the partially-addressable family (exclusive).
	MaxPartialBytes = 8

	// RedzoneBit is set on every inaccessible marker.
	RedzoneBit Marker = 0x80

	// HistoricBit distinguishes active block markers (bit set) from the
	// historic record of a block that is no longer live (bit clear).
	HistoricBit Marker = 0x20

	// NestedBlockStartBit flags a nested allocation's start marker.
	NestedBlockStartBit Marker = 0x08

	// NestedBlockEndBit flags a nested allocation's end marker.
	NestedBlockEndBit Marker = 0x01

	// BlockStartDataMask extracts the 3 in-band metadata bits of a
	// block-start marker.
	BlockStartDataMask Marker = 0x07
)

// Block-lifecycle markers, active forms.
const (
	ActiveBlockStart       Marker = 0xE0 // ..0xE7 with data bits
	ActiveNestedBlockStart Marker = 0xE8 // ..0xEF with data bits
	ActiveBlockEnd         Marker = 0xF4
	ActiveNestedBlockEnd   Marker = 0xF5
	ActiveLeftRedzone      Marker = 0xFA
	ActiveRightRedzone     Marker = 0xFB
	ActiveFreedMarker      Marker = 0xFD
)

// Block-lifecycle markers, historic forms (active with HistoricBit cleared).
const (
	HistoricBlockStart       Marker = 0xC0 // ..0xC7 with data bits
	HistoricNestedBlockStart Marker = 0xC8 // ..0xCF with data bits
	HistoricBlockEnd         Marker = 0xD4
	HistoricNestedBlockEnd   Marker = 0xD5
	HistoricLeftRedzone      Marker = 0xDA
	HistoricRightRedzone     Marker = 0xDB
	HistoricFreedMarker      Marker = 0xDD
)

// Housekeeping markers.
const (
	AsanMemoryMarker   Marker = 0xF1 // runtime-internal memory
	InvalidAddress     Marker = 0xF2
	UserRedzone        Marker = 0xF3
	AsanReservedMarker Marker = 0xFC
)

// IsAddressable reports whether the marker describes fully accessible
// memory.
func IsAddressable(m Marker) bool {
	return m == Addressable
}

// PartialAddressableBytes returns N for the partially-addressable markers
// 0x01..0x07 (the first N bytes of the run are accessible), 0 otherwise.
func PartialAddressableBytes(m Marker) uint8 {
	if m > 0 && m < MaxPartialBytes {
		return m
	}
	return 0
}

// IsRedzone reports whether the marker describes inaccessible memory.
// Holds exactly when the top bit is set.
func IsRedzone(m Marker) bool {
	return m&RedzoneBit != 0
}

// isActiveBlockByte matches the active block family by exact value.
func isActiveBlockByte(m Marker) bool {
	switch {
	case m >= ActiveBlockStart && m <= ActiveNestedBlockStart|BlockStartDataMask:
		return true
	case m == ActiveBlockEnd || m == ActiveNestedBlockEnd:
		return true
	case m == ActiveLeftRedzone || m == ActiveRightRedzone || m == ActiveFreedMarker:
		return true
	}
	return false
}

// IsActiveBlock reports whether the marker belongs to a live allocation.
func IsActiveBlock(m Marker) bool {
	return m&HistoricBit != 0 && isActiveBlockByte(m)
}

// IsHistoricBlock reports whether the marker records a past allocation.
func IsHistoricBlock(m Marker) bool {
	return m&HistoricBit == 0 && isActiveBlockByte(m|HistoricBit)
}

// IsBlock reports whether the marker belongs to any block, live or not.
func IsBlock(m Marker) bool {
	return IsActiveBlock(m) || IsHistoricBlock(m)
}

// IsActiveBlockStart reports an active block's start marker (either
// nesting).
func IsActiveBlockStart(m Marker) bool {
	return m >= ActiveBlockStart && m <= ActiveNestedBlockStart|BlockStartDataMask
}

// IsHistoricBlockStart reports a historic block's start marker.
func IsHistoricBlockStart(m Marker) bool {
	return m >= HistoricBlockStart && m <= HistoricNestedBlockStart|BlockStartDataMask
}

// IsBlockStart reports any block-start marker.
func IsBlockStart(m Marker) bool {
	return IsActiveBlockStart(m) || IsHistoricBlockStart(m)
}

// IsNestedBlockStart reports a block-start marker for a nested allocation.
func IsNestedBlockStart(m Marker) bool {
	return IsBlockStart(m) && m&NestedBlockStartBit != 0
}

// IsActiveBlockEnd reports an active block's end marker.
func IsActiveBlockEnd(m Marker) bool {
	return m == ActiveBlockEnd || m == ActiveNestedBlockEnd
}

// IsHistoricBlockEnd reports a historic block's end marker.
func IsHistoricBlockEnd(m Marker) bool {
	return m == HistoricBlockEnd || m == HistoricNestedBlockEnd
}

// IsBlockEnd reports any block-end marker.
func IsBlockEnd(m Marker) bool {
	return IsActiveBlockEnd(m) || IsHistoricBlockEnd(m)
}

// IsNestedBlockEnd reports a block-end marker for a nested allocation.
func IsNestedBlockEnd(m Marker) bool {
	return IsBlockEnd(m) && m&NestedBlockEndBit != 0
}

// IsActiveLeftRedzone reports an active block's left padding.
func IsActiveLeftRedzone(m Marker) bool {
	return m == ActiveLeftRedzone || IsActiveBlockStart(m)
}

// IsHistoricLeftRedzone reports a historic block's left padding.
func IsHistoricLeftRedzone(m Marker) bool {
	return m == HistoricLeftRedzone || IsHistoricBlockStart(m)
}

// IsLeftRedzone reports left padding of any block. Block-start markers
// count: the start byte is itself part of the left redzone.
func IsLeftRedzone(m Marker) bool {
	return IsActiveLeftRedzone(m) || IsHistoricLeftRedzone(m)
}

// IsActiveRightRedzone reports an active block's right padding.
func IsActiveRightRedzone(m Marker) bool {
	return m == ActiveRightRedzone || IsActiveBlockEnd(m)
}

// IsHistoricRightRedzone reports a historic block's right padding.
func IsHistoricRightRedzone(m Marker) bool {
	return m == HistoricRightRedzone || IsHistoricBlockEnd(m)
}

// IsRightRedzone reports right padding of any block. Block-end markers
// count: the end byte is itself part of the right redzone.
func IsRightRedzone(m Marker) bool {
	return IsActiveRightRedzone(m) || IsHistoricRightRedzone(m)
}

// BlockStartData returns the 3 metadata bits of a block-start marker.
// Undefined on other markers; callers must gate with IsBlockStart.
func BlockStartData(m Marker) uint8 {
	return m & BlockStartDataMask
}

// ToHistoric converts an active block marker into its historic counterpart
// by clearing HistoricBit. Non-block markers pass through unchanged.
func ToHistoric(m Marker) Marker {
	if !IsActiveBlock(m) {
		return m
	}
	return m &^ HistoricBit
}

// BuildBlockStart constructs a block-start marker. data must be < 8.
func BuildBlockStart(active, nested bool, data uint8) Marker {
	m := HistoricBlockStart | (data & BlockStartDataMask)
	if active {
		m |= HistoricBit
	}
	if nested {
		m |= NestedBlockStartBit
	}
	return m
}

// BuildBlockEnd constructs a block-end marker.
func BuildBlockEnd(active, nested bool) Marker {
	m := HistoricBlockEnd
	if active {
		m |= HistoricBit
	}
	if nested {
		m |= NestedBlockEndBit
	}
	return m
}
