package kv

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Built-In String Set Encoder
// --------------------------------------------------------------------------

// StringSetEncoder encodes []string values. It is registered in every
// store under the tag "STRING_SET". Element order survives a round trip.
//
// Wire format: for each element, a little-endian uint32 length followed
// by the UTF-8 bytes.
var StringSetEncoder Encoder = stringSetEncoder{}

type stringSetEncoder struct{}

func (stringSetEncoder) Tag() string { return "STRING_SET" }

func (stringSetEncoder) Encode(value any) ([]byte, error) {
	set, ok := value.([]string)
	if !ok {
		return nil, errors.Errorf("expected []string, got %T", value)
	}
	size := 0
	for _, s := range set {
		size += 4 + len(s)
	}
	out := make([]byte, 0, size)
	var lenBuf [4]byte
	for _, s := range set {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		out = append(out, lenBuf[:]...)
		out = append(out, s...)
	}
	return out, nil
}

func (stringSetEncoder) Decode(data []byte) (any, error) {
	set := make([]string, 0, 8)
	for pos := 0; pos < len(data); {
		if pos+4 > len(data) {
			return nil, errors.New("truncated string set")
		}
		n := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if pos+n > len(data) {
			return nil, errors.New("truncated string set element")
		}
		set = append(set, string(data[pos:pos+n]))
		pos += n
	}
	return set, nil
}
