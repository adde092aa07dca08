package cedar

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/cedarkv/cedar/lib/kv"
	"github.com/cedarkv/cedar/lib/kv/buffer"
	"github.com/cedarkv/cedar/lib/kv/util"
)

func int32BitsToFloat(v int32) float32 { return math.Float32frombits(uint32(v)) }
func floatToInt32Bits(v float32) int32 { return int32(math.Float32bits(v)) }
func int64BitsToFloat(v int64) float64 { return math.Float64frombits(uint64(v)) }
func floatToInt64Bits(v float64) int64 { return int64(math.Float64bits(v)) }

func checkKey(key string) error {
	if key == "" {
		return kv.ErrKeyEmpty
	}
	return nil
}

func checkKeySize(keySize int) error {
	if keySize > 0xFF {
		return kv.ErrKeyTooLong
	}
	return nil
}

// --------------------------------------------------------------------------
// Record Assembly
// --------------------------------------------------------------------------

// wrapHeader reserves space for a whole record at dataEnd and writes the
// type byte, key length and key. The caller writes the value and then
// calls updateChange.
func (s *store) wrapHeader(key string, typ byte, valueSize int) error {
	keySize := buffer.StringSize(key)
	if err := checkKeySize(keySize); err != nil {
		return err
	}
	s.updateSize = 2 + keySize + valueSize
	if err := s.preparePutBytes(); err != nil {
		s.updateSize = 0
		return err
	}
	s.buf.Put(typ)
	s.putKey(key, keySize)
	return nil
}

func (s *store) preparePutBytes() error {
	if err := s.ensureSize(s.updateSize); err != nil {
		return err
	}
	s.updateStart = s.dataEnd
	s.dataEnd += s.updateSize
	s.buf.Pos = s.updateStart
	s.sizeChanged = true
	return nil
}

func (s *store) putKey(key string, keySize int) {
	s.buf.Put(byte(keySize))
	s.buf.PutString(key)
}

func (s *store) putStringValue(value string, valueSize int) {
	s.buf.PutUint16(uint16(valueSize))
	s.buf.PutString(value)
}

// --------------------------------------------------------------------------
// Mirror Write Protocol
// --------------------------------------------------------------------------

// updateChange folds the freshly written record into the checksum and
// pushes the patch to both mirrors. A's size header is first set to -1
// so a crash mid-patch leaves A marked incomplete; B is only written
// once A is whole again, so at least one mirror is intact between any
// two steps.
func (s *store) updateChange() {
	s.checksum ^= s.buf.Checksum(s.updateStart, s.updateSize)
	if s.writingMode == nonBlocking {
		putInt32(s.aMap, 0, -1)
		s.syncMirror(s.aMap, true)
		putInt32(s.aMap, 0, int32(s.dataEnd-dataStart))
		s.syncMirror(s.bMap, false)
	} else {
		if s.sizeChanged {
			s.buf.PutInt32At(0, int32(s.dataEnd-dataStart))
		}
		s.buf.PutUint64At(4, s.checksum)
	}
	s.sizeChanged = false
	s.removeStart = 0
	s.updateSize = 0
}

// syncMirror applies the pending patch (size for B, checksum, tombstone
// byte, record bytes) to one mirror.
func (s *store) syncMirror(m []byte, isA bool) {
	if s.sizeChanged && !isA {
		putInt32(m, 0, int32(s.dataEnd-dataStart))
	}
	putUint64(m, 4, s.checksum)
	if s.removeStart != 0 {
		m[s.removeStart] = s.buf.B[s.removeStart]
	}
	if s.updateSize != 0 {
		copy(m[s.updateStart:s.updateStart+s.updateSize], s.buf.B[s.updateStart:])
	}
}

// --------------------------------------------------------------------------
// Fixed-Size In-Place Updates
// --------------------------------------------------------------------------

func (s *store) updateBool(value byte, offset int) {
	// Old XOR new of a flipped boolean byte is always 1.
	s.checksum ^= buffer.ShiftChecksum(1, offset)
	if s.writingMode == nonBlocking {
		putUint64(s.aMap, 4, s.checksum)
		s.aMap[offset] = value
		putUint64(s.bMap, 4, s.checksum)
		s.bMap[offset] = value
	} else {
		s.buf.PutUint64At(4, s.checksum)
	}
	s.buf.B[offset] = value
}

func (s *store) updateInt32(value int32, sum uint64, offset int) {
	s.checksum ^= buffer.ShiftChecksum(sum, offset)
	if s.writingMode == nonBlocking {
		putUint64(s.aMap, 4, s.checksum)
		putInt32(s.aMap, offset, value)
		putUint64(s.bMap, 4, s.checksum)
		putInt32(s.bMap, offset, value)
	} else {
		s.buf.PutUint64At(4, s.checksum)
	}
	s.buf.PutInt32At(offset, value)
}

func (s *store) updateInt64(value int64, sum uint64, offset int) {
	s.checksum ^= buffer.ShiftChecksum(sum, offset)
	if s.writingMode == nonBlocking {
		putUint64(s.aMap, 4, s.checksum)
		putUint64(s.aMap, offset, uint64(value))
		putUint64(s.bMap, 4, s.checksum)
		putUint64(s.bMap, offset, uint64(value))
	} else {
		s.buf.PutUint64At(4, s.checksum)
	}
	s.buf.PutUint64At(offset, uint64(value))
}

// updateBytes overwrites a variable value body of unchanged size in
// place, diffing the checksum over the old and new bytes.
func (s *store) updateBytes(offset int, value []byte) {
	size := len(value)
	s.checksum ^= s.buf.Checksum(offset, size)
	s.buf.Pos = offset
	s.buf.PutBytes(value)
	s.checksum ^= s.buf.Checksum(offset, size)
	if s.writingMode == nonBlocking {
		putInt32(s.aMap, 0, -1)
		putUint64(s.aMap, 4, s.checksum)
		copy(s.aMap[offset:offset+size], value)
		putInt32(s.aMap, 0, int32(s.dataEnd-dataStart))
		putUint64(s.bMap, 4, s.checksum)
		copy(s.bMap[offset:offset+size], value)
	} else {
		s.buf.PutUint64At(4, s.checksum)
	}
}

// --------------------------------------------------------------------------
// Tombstoning
// --------------------------------------------------------------------------

// tombstone marks the record at [start, end) deleted by ORing the delete
// flag into its type byte; type and external bits are never altered.
func (s *store) tombstone(start, end int) {
	s.countInvalid(start, end)
	oldByte := s.buf.B[start]
	newByte := oldByte | deleteMask
	s.checksum ^= uint64(newByte^oldByte) << uint((start&7)<<3)
	s.buf.B[start] = newByte
	s.removeStart = start
}

func (s *store) countInvalid(start, end int) {
	s.invalidBytes += end - start
	s.invalids = append(s.invalids, segment{start: start, end: end})
}

func (s *store) clearInvalid() {
	s.invalidBytes = 0
	s.invalids = s.invalids[:0]
}

// removeContainer tombstones the record behind a container and patches
// the mirrors. Used by Remove and by puts that change a key's type.
func (s *store) removeContainer(key string, c container) {
	delete(s.data, key)
	s.bigValueCache.Delete(key)
	oldFileName := ""
	if vc, ok := c.(*varContainer); ok {
		s.tombstone(vc.start, vc.offset+vc.valueSize)
		if vc.external {
			oldFileName = vc.value.(string)
		}
	} else {
		typ := c.typeOf()
		offset := valueOffset(c)
		start := offset - (2 + buffer.StringSize(key))
		s.tombstone(start, offset+typeSize[typ])
	}
	if s.writingMode == nonBlocking {
		putUint64(s.aMap, 4, s.checksum)
		s.aMap[s.removeStart] = s.buf.B[s.removeStart]
		putUint64(s.bMap, 4, s.checksum)
		s.bMap[s.removeStart] = s.buf.B[s.removeStart]
	} else {
		s.buf.PutUint64At(4, s.checksum)
	}
	s.removeStart = 0
	if oldFileName != "" {
		s.removeSidecar(key, oldFileName)
	}
}

// removeSidecar deletes the payload file behind an overwritten or
// removed external value. In non-blocking mode the deletion runs on the
// per-key executor so it stays ordered after any pending write for the
// same key; the blocking modes defer it until the next successful
// commit.
func (s *store) removeSidecar(key, fileName string) {
	s.externalCache.Delete(fileName)
	if s.writingMode == nonBlocking {
		path := filepath.Join(s.path, s.name, fileName)
		counter := s.mExternalDeletes
		logger := s.logger
		name := s.name
		s.externalExecutor.Execute(key, func() {
			if err := util.DeleteFile(path); err != nil {
				if logger != nil {
					logger.Warning(name, err)
				}
				return
			}
			counter.Inc()
		})
	} else {
		s.deletedFiles = append(s.deletedFiles, deletedFile{key: key, fileName: fileName})
	}
}

// --------------------------------------------------------------------------
// Variable-Size Add / Update
// --------------------------------------------------------------------------

func (s *store) addOrUpdate(key string, value any, bytes []byte, c *varContainer, typ byte) error {
	var err error
	if c == nil {
		err = s.addObject(key, value, bytes, typ)
	} else if !c.external && c.valueSize == len(bytes) {
		s.updateBytes(c.offset, bytes)
		c.value = value
	} else {
		err = s.updateObject(key, value, bytes, c)
	}
	s.checkIfCommit()
	return err
}

func (s *store) addObject(key string, value any, bytes []byte, typ byte) error {
	offset, err := s.saveArray(key, bytes, typ)
	if err != nil {
		return err
	}
	external := s.tempExternalName != ""
	var (
		size int
		v    any
	)
	if external {
		s.bigValueCache.Store(key, value)
		size = util.NameSize
		v = s.tempExternalName
		s.tempExternalName = ""
	} else {
		size = len(bytes)
		v = value
	}
	s.data[key] = &varContainer{typ: typ, start: s.updateStart, offset: offset, value: v, valueSize: size, external: external}
	s.updateChange()
	return nil
}

func (s *store) updateObject(key string, value any, bytes []byte, c *varContainer) error {
	offset, err := s.saveArray(key, bytes, c.typ)
	if err != nil {
		return err
	}
	oldFileName := ""
	if c.external {
		oldFileName = c.value.(string)
	}
	s.tombstone(c.start, c.offset+c.valueSize)
	external := s.tempExternalName != ""
	c.start = s.updateStart
	c.offset = offset
	c.external = external
	if external {
		s.bigValueCache.Store(key, value)
		c.value = s.tempExternalName
		c.valueSize = util.NameSize
		s.tempExternalName = ""
	} else {
		c.value = value
		c.valueSize = len(bytes)
	}
	s.updateChange()
	s.checkGC()
	if oldFileName != "" {
		s.removeSidecar(key, oldFileName)
	}
	return nil
}

// saveArray writes the value either inline or to a sidecar file whose
// name takes its place in the record. Returns the offset of the value
// body.
func (s *store) saveArray(key string, value []byte, typ byte) (int, error) {
	s.tempExternalName = ""
	if len(value) < s.internalLimit {
		return s.wrapArray(key, value, typ)
	}
	fileName := util.RandomName()
	s.info(fmt.Sprintf("save large value, key:%s, size:%d, fileName:%s", key, len(value), fileName))
	payload := make([]byte, len(value))
	copy(payload, value)
	s.externalCache.Store(fileName, payload)
	path := filepath.Join(s.path, s.name, fileName)
	counter := s.mExternalWrites
	logger := s.logger
	name := s.name
	s.externalExecutor.Execute(key, func() {
		if err := util.SaveBytes(path, payload); err != nil {
			if logger != nil {
				logger.Error(name, err)
			}
			return
		}
		counter.Inc()
	})
	s.tempExternalName = fileName
	return s.wrapArray(key, []byte(fileName), typ|externalMask)
}

func (s *store) wrapArray(key string, value []byte, typ byte) (int, error) {
	if err := s.wrapHeader(key, typ, 2+len(value)); err != nil {
		return 0, err
	}
	s.buf.PutUint16(uint16(len(value)))
	offset := s.buf.Pos
	s.buf.PutBytes(value)
	return offset, nil
}

// --------------------------------------------------------------------------
// Short String Fast Path
// --------------------------------------------------------------------------

// fastPutString handles strings that always stay inline. Same-length
// overwrites patch the value body in place, keeping the record position
// and diffing the checksum; other cases append a new record and
// tombstone the old one.
func (s *store) fastPutString(key, value string, c *varContainer) error {
	stringLen := buffer.StringSize(value)
	if c == nil {
		keyLen := buffer.StringSize(key)
		if err := checkKeySize(keyLen); err != nil {
			return err
		}
		// record head is type:1 + keyLen:1 + key + valueLen:2
		preSize := 4 + keyLen
		s.updateSize = preSize + stringLen
		if err := s.preparePutBytes(); err != nil {
			s.updateSize = 0
			return err
		}
		s.buf.Put(typeString)
		s.putKey(key, keyLen)
		s.putStringValue(value, stringLen)
		s.data[key] = &varContainer{typ: typeString, start: s.updateStart, offset: s.updateStart + preSize, value: value, valueSize: stringLen, external: false}
		s.updateChange()
	} else {
		oldFileName := ""
		needCheckGC := false
		if c.valueSize == stringLen && !c.external {
			s.checksum ^= s.buf.Checksum(c.offset, c.valueSize)
			s.buf.Pos = c.offset
			s.buf.PutString(value)
			s.updateStart = c.offset
			s.updateSize = stringLen
		} else {
			// preSize covers the bytes from the record start to the value
			preSize := c.offset - c.start
			s.updateSize = preSize + stringLen
			if err := s.preparePutBytes(); err != nil {
				s.updateSize = 0
				return err
			}
			s.buf.Put(typeString)
			keyBytes := preSize - 3
			copy(s.buf.B[s.buf.Pos:s.buf.Pos+keyBytes], s.buf.B[c.start+1:])
			s.buf.Pos += keyBytes
			s.putStringValue(value, stringLen)

			s.tombstone(c.start, c.offset+c.valueSize)
			needCheckGC = true
			if c.external {
				oldFileName = c.value.(string)
			}

			c.external = false
			c.start = s.updateStart
			c.offset = s.updateStart + preSize
			c.valueSize = stringLen
		}
		c.value = value
		s.updateChange()
		if needCheckGC {
			s.checkGC()
		}
		if oldFileName != "" {
			s.removeSidecar(key, oldFileName)
		}
	}
	s.checkIfCommit()
	return nil
}

// --------------------------------------------------------------------------
// Container Lookup Helpers
// --------------------------------------------------------------------------

// fixedContainerFor returns the existing container for key if it has the
// wanted concrete type. A container of any other type is tombstoned so
// the caller can append a fresh record (type changes always take the
// append path).
func (s *store) fixedContainerFor(key string, typ byte) container {
	c, ok := s.data[key]
	if !ok {
		return nil
	}
	if c.typeOf() == typ {
		if _, isVar := c.(*varContainer); !isVar {
			return c
		}
	}
	s.removeContainer(key, c)
	return nil
}

// varContainerFor is fixedContainerFor's counterpart for variable types.
func (s *store) varContainerFor(key string, typ byte) *varContainer {
	c, ok := s.data[key]
	if !ok {
		return nil
	}
	if vc, isVar := c.(*varContainer); isVar && vc.typ == typ {
		return vc
	}
	s.removeContainer(key, c)
	return nil
}
