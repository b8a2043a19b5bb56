// Package binbuf implements the bounds-checked binary buffer primitives
// shared by the trace-format codecs and the segment parser.
//
// Three objects:
//   - Parser: random-access typed reads over a byte slice
//   - Reader: a cursor layered on a Parser (consume, align, read)
//   - Writer: the encoding counterpart over a fixed-capacity slice
//
// All reads and writes fail with ErrShortBuffer instead of panicking when a
// request would straddle the end of the underlying bytes. The trace format
// is little-endian with a fixed 64-bit pointer width; values smaller than
// four bytes are read as whole fields, never bit-packed.
package binbuf
