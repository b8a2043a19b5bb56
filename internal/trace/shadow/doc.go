// Package shadow implements the one-byte marker vocabulary used by the
// hardening agent's heap shadow memory.
//
// Every byte of instrumented heap memory has a shadow byte describing its
// state: addressable, part of a live or historic block, redzone padding, or
// housekeeping. The encoding is memory-mapped and shared across processes,
// so the byte values here are fixed and must be reproduced bit-exactly.
//
// Layout of the encoding:
//   - 0x00           fully addressable
//   - 0x01..0x07     partially addressable (N leading bytes valid)
//   - top bit 0x80   the redzone bit; any marker with it set is inaccessible
//   - bit 0x20       distinguishes active block markers from their historic
//     counterparts (active has the bit set)
//   - block-start markers carry 3 bits of in-band metadata in the low bits
//
// All predicates in this package are total over uint8; BlockStartData alone
// is undefined on non-block-start markers and callers must gate it with
// IsBlockStart.
package shadow
