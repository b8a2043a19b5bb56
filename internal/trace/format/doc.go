// Package format owns the on-disk trace file layout: the file header, the
// block-aligned segment framing, record prefixes, and the codecs for every
// event record kind the format carries.
//
// The file is a sequence of fixed-alignment blocks. Block 0 holds the file
// header; each later block holds zero or more segments, each introduced by a
// RecordPrefix of kind KindSegmentHeader followed by a SegmentHeader and a
// variable-length body of event records. All integers are little-endian.
//
// Address fields are 64 bits wide. The pointer width is declared by the
// file signature ('TRC8'); a file written by a 32-bit emitter carries 'TRC4'
// and is refused with ErrPointerWidth, since the record layouts are not
// portable across widths.
package format
