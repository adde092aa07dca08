package cedar

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/cedarkv/cedar/lib/kv/util"
)

var errParseData = errors.New("parse data failed")

// parseData walks the buffer from dataStart to dataEnd, rebuilding the
// container index and the invalid-segment list. Any structural
// inconsistency aborts the parse so the caller can fall back to the
// other mirror or reset the store.
func (s *store) parseData() error {
	b := s.buf
	b.Pos = dataStart
	for b.Pos < s.dataEnd {
		start := b.Pos
		if start+2 > s.dataEnd {
			s.warning(errParseData)
			return errParseData
		}
		info := b.Get()
		typ := info & typeMask
		if typ < typeBoolean || typ > typeObject {
			s.warning(errParseData)
			return errParseData
		}
		keySize := int(b.Get())

		if info&deleteMask != 0 {
			// Tombstone: skip the record, account its span for GC.
			b.Pos += keySize
			valueSize := 0
			if typ <= typeFloat64 {
				valueSize = typeSize[typ]
			} else {
				if b.Pos+2 > s.dataEnd {
					s.warning(errParseData)
					return errParseData
				}
				valueSize = int(b.GetUint16())
			}
			b.Pos += valueSize
			if b.Pos > s.dataEnd {
				s.warning(errParseData)
				return errParseData
			}
			s.countInvalid(start, b.Pos)
			continue
		}

		if b.Pos+keySize > s.dataEnd {
			s.warning(errParseData)
			return errParseData
		}
		key := b.GetString(keySize)
		pos := b.Pos

		if typ <= typeFloat64 {
			if pos+typeSize[typ] > s.dataEnd {
				s.warning(errParseData)
				return errParseData
			}
			switch typ {
			case typeBoolean:
				s.data[key] = &boolContainer{offset: pos, value: b.Get() == 1}
			case typeInt32:
				s.data[key] = &int32Container{offset: pos, value: b.GetInt32()}
			case typeInt64:
				s.data[key] = &int64Container{offset: pos, value: b.GetInt64()}
			case typeFloat32:
				s.data[key] = &float32Container{offset: pos, value: int32BitsToFloat(b.GetInt32())}
			default:
				s.data[key] = &float64Container{offset: pos, value: int64BitsToFloat(b.GetInt64())}
			}
			continue
		}

		if pos+2 > s.dataEnd {
			s.warning(errParseData)
			return errParseData
		}
		size := int(b.GetUint16())
		external := info&externalMask != 0
		if external && size != util.NameSize {
			s.warning(errors.New("name size not match"))
			return errParseData
		}
		if b.Pos+size > s.dataEnd {
			s.warning(errParseData)
			return errParseData
		}
		switch typ {
		case typeString:
			value := b.GetString(size)
			s.data[key] = &varContainer{typ: typeString, start: start, offset: pos + 2, value: value, valueSize: size, external: external}
		case typeArray:
			var value any
			if external {
				value = b.GetString(size)
			} else {
				value = b.GetBytes(size)
			}
			s.data[key] = &varContainer{typ: typeArray, start: start, offset: pos + 2, value: value, valueSize: size, external: external}
		default: // typeObject
			if external {
				fileName := b.GetString(size)
				s.data[key] = &varContainer{typ: typeObject, start: start, offset: pos + 2, value: fileName, valueSize: size, external: true}
				continue
			}
			tagSize := int(b.Get())
			if b.Pos+tagSize > s.dataEnd {
				s.warning(errParseData)
				return errParseData
			}
			tag := b.GetString(tagSize)
			objectSize := size - (tagSize + 1)
			if objectSize < 0 || b.Pos+objectSize > s.dataEnd {
				s.warning(errParseData)
				return errParseData
			}
			encoder := s.encoders[tag]
			if encoder == nil {
				// The key stays absent; the bytes remain until GC.
				s.error(fmt.Errorf("object with tag %q without encoder", tag))
				s.countInvalid(start, b.Pos+objectSize)
			} else {
				payload := make([]byte, objectSize)
				copy(payload, b.B[b.Pos:])
				obj, err := encoder.Decode(payload)
				if err != nil {
					s.error(err)
				} else if obj != nil {
					s.data[key] = &varContainer{typ: typeObject, start: start, offset: pos + 2, value: obj, valueSize: size, external: false}
				}
			}
			b.Pos += objectSize
		}
	}
	if b.Pos != s.dataEnd {
		s.warning(errParseData)
		return errParseData
	}
	return nil
}
