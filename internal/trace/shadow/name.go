package shadow

import "fmt"

// Name returns a human-readable mnemonic for the marker, used by the
// hardening agent's reports. Every byte value names something.
func Name(m Marker) string {
	switch {
	case m == Addressable:
		return "addressable"
	case PartialAddressableBytes(m) != 0:
		return fmt.Sprintf("partially-addressable(%d)", m)
	case m == AsanMemoryMarker:
		return "runtime-internal"
	case m == InvalidAddress:
		return "invalid-address"
	case m == UserRedzone:
		return "user-redzone"
	case m == AsanReservedMarker:
		return "reserved"
	case IsBlockStart(m):
		return fmt.Sprintf("%s%sblock-start(%d)", eraPrefix(m), nestPrefix(IsNestedBlockStart(m)), BlockStartData(m))
	case IsBlockEnd(m):
		return eraPrefix(m) + nestPrefix(IsNestedBlockEnd(m)) + "block-end"
	case m == ActiveLeftRedzone || m == HistoricLeftRedzone:
		return eraPrefix(m) + "left-redzone"
	case m == ActiveRightRedzone || m == HistoricRightRedzone:
		return eraPrefix(m) + "right-redzone"
	case m == ActiveFreedMarker || m == HistoricFreedMarker:
		return eraPrefix(m) + "freed"
	case IsRedzone(m):
		return fmt.Sprintf("unknown-redzone(%#02x)", m)
	}
	return fmt.Sprintf("unknown(%#02x)", m)
}

func eraPrefix(m Marker) string {
	if m&HistoricBit != 0 {
		return "active-"
	}
	return "historic-"
}

func nestPrefix(nested bool) string {
	if nested {
		return "nested-"
	}
	return ""
}
