// Package buffer provides the little-endian byte buffer backing the
// cedar engine's data region, together with the position-weighted
// rolling checksum used to verify it.
package buffer

import (
	"encoding/binary"
	"math/bits"
)

// Buffer is a byte array with a cursor. All multi-byte accessors are
// little-endian. Bounds are the caller's responsibility; the engine
// sizes the backing array before writing.
type Buffer struct {
	B   []byte
	Pos int
}

// New creates a zeroed buffer of the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{B: make([]byte, capacity)}
}

// Wrap creates a buffer over an existing byte slice.
func Wrap(b []byte) *Buffer {
	return &Buffer{B: b}
}

// --------------------------------------------------------------------------
// Cursor Accessors
// --------------------------------------------------------------------------

func (b *Buffer) Get() byte {
	v := b.B[b.Pos]
	b.Pos++
	return v
}

func (b *Buffer) Put(v byte) {
	b.B[b.Pos] = v
	b.Pos++
}

func (b *Buffer) GetUint16() uint16 {
	v := binary.LittleEndian.Uint16(b.B[b.Pos:])
	b.Pos += 2
	return v
}

func (b *Buffer) PutUint16(v uint16) {
	binary.LittleEndian.PutUint16(b.B[b.Pos:], v)
	b.Pos += 2
}

func (b *Buffer) GetInt32() int32 {
	v := int32(binary.LittleEndian.Uint32(b.B[b.Pos:]))
	b.Pos += 4
	return v
}

func (b *Buffer) PutInt32(v int32) {
	binary.LittleEndian.PutUint32(b.B[b.Pos:], uint32(v))
	b.Pos += 4
}

func (b *Buffer) GetInt64() int64 {
	v := int64(binary.LittleEndian.Uint64(b.B[b.Pos:]))
	b.Pos += 8
	return v
}

func (b *Buffer) PutInt64(v int64) {
	binary.LittleEndian.PutUint64(b.B[b.Pos:], uint64(v))
	b.Pos += 8
}

// GetString reads size bytes at the cursor as UTF-8.
func (b *Buffer) GetString(size int) string {
	v := string(b.B[b.Pos : b.Pos+size])
	b.Pos += size
	return v
}

// PutString writes the UTF-8 bytes of s at the cursor (no length prefix;
// record headers carry the length).
func (b *Buffer) PutString(s string) {
	copy(b.B[b.Pos:], s)
	b.Pos += len(s)
}

// GetBytes copies out size bytes at the cursor.
func (b *Buffer) GetBytes(size int) []byte {
	v := make([]byte, size)
	copy(v, b.B[b.Pos:])
	b.Pos += size
	return v
}

func (b *Buffer) PutBytes(v []byte) {
	copy(b.B[b.Pos:], v)
	b.Pos += len(v)
}

// --------------------------------------------------------------------------
// Absolute Accessors (header patches)
// --------------------------------------------------------------------------

func (b *Buffer) PutInt32At(pos int, v int32) {
	binary.LittleEndian.PutUint32(b.B[pos:], uint32(v))
}

func (b *Buffer) Int32At(pos int) int32 {
	return int32(binary.LittleEndian.Uint32(b.B[pos:]))
}

func (b *Buffer) PutUint64At(pos int, v uint64) {
	binary.LittleEndian.PutUint64(b.B[pos:], v)
}

func (b *Buffer) Uint64At(pos int) uint64 {
	return binary.LittleEndian.Uint64(b.B[pos:])
}

// --------------------------------------------------------------------------
// Rolling Checksum
// --------------------------------------------------------------------------

// Checksum computes the position-weighted XOR checksum over
// [start, start+size). Every byte contributes its value shifted by its
// offset within the 8-byte word it falls into, so the total equals the
// XOR of per-byte contributions. This makes the checksum updatable at
// arbitrary offsets: XOR out the old range, XOR in the new one.
func (b *Buffer) Checksum(start, size int) uint64 {
	if size <= 0 {
		return 0
	}
	var sum uint64
	p := start
	end := start + size
	for ; p < end && p&7 != 0; p++ {
		sum ^= uint64(b.B[p]) << uint((p&7)<<3)
	}
	for ; p+8 <= end; p += 8 {
		sum ^= binary.LittleEndian.Uint64(b.B[p:])
	}
	for ; p < end; p++ {
		sum ^= uint64(b.B[p]) << uint((p&7)<<3)
	}
	return sum
}

// ShiftChecksum rotates a single-word checksum delta into the bit
// positions matching the word alignment of offset. Used for fixed-size
// primitive updates where the delta is oldBits XOR newBits.
func ShiftChecksum(sum uint64, offset int) uint64 {
	return bits.RotateLeft64(sum, (offset&7)<<3)
}

// StringSize returns the number of bytes the UTF-8 encoding of s
// occupies on disk.
func StringSize(s string) int {
	return len(s)
}
