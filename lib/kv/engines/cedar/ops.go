package cedar

import (
	"fmt"

	"github.com/cedarkv/cedar/lib/kv"
	"github.com/cedarkv/cedar/lib/kv/buffer"
)

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (s *store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func (s *store) GetBool(key string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key].(*boolContainer)
	if !ok {
		return false, false
	}
	return c.value, true
}

func (s *store) GetInt32(key string) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key].(*int32Container)
	if !ok {
		return 0, false
	}
	return c.value, true
}

func (s *store) GetInt64(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key].(*int64Container)
	if !ok {
		return 0, false
	}
	return c.value, true
}

func (s *store) GetFloat32(key string) (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key].(*float32Container)
	if !ok {
		return 0, false
	}
	return c.value, true
}

func (s *store) GetFloat64(key string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key].(*float64Container)
	if !ok {
		return 0, false
	}
	return c.value, true
}

func (s *store) GetString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key].(*varContainer)
	if !ok || c.typ != typeString {
		return "", false
	}
	if c.external {
		if cached, ok := s.bigValueCache.Load(key); ok {
			if str, isString := cached.(string); isString {
				return str, true
			}
		}
		str := s.stringFromFile(c)
		if str != "" {
			s.bigValueCache.Store(key, str)
		}
		return str, true
	}
	return c.value.(string), true
}

func (s *store) GetBytes(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key].(*varContainer)
	if !ok || c.typ != typeArray {
		return nil, false
	}
	if c.external {
		if cached, ok := s.bigValueCache.Load(key); ok {
			if b, isBytes := cached.([]byte); isBytes {
				return copyBytes(b), true
			}
		}
		b := s.bytesFromFile(c)
		if len(b) != 0 {
			s.bigValueCache.Store(key, b)
		}
		return copyBytes(b), true
	}
	return copyBytes(c.value.([]byte)), true
}

func (s *store) GetObject(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getObjectLocked(key)
}

func (s *store) getObjectLocked(key string) (any, bool) {
	c, ok := s.data[key].(*varContainer)
	if !ok || c.typ != typeObject {
		return nil, false
	}
	if c.external {
		if cached, ok := s.bigValueCache.Load(key); ok {
			return cached, true
		}
		obj := s.objectFromFile(c)
		if obj != nil {
			s.bigValueCache.Store(key, obj)
		}
		return obj, obj != nil
	}
	return c.value, true
}

func (s *store) GetStringSet(key string) ([]string, bool) {
	obj, ok := s.GetObject(key)
	if !ok {
		return nil, false
	}
	set, isSet := obj.([]string)
	if !isSet {
		return nil, false
	}
	return set, true
}

func (s *store) GetAll() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]any, len(s.data))
	for key, c := range s.data {
		switch c := c.(type) {
		case *boolContainer:
			result[key] = c.value
		case *int32Container:
			result[key] = c.value
		case *int64Container:
			result[key] = c.value
		case *float32Container:
			result[key] = c.value
		case *float64Container:
			result[key] = c.value
		case *varContainer:
			switch c.typ {
			case typeString:
				if c.external {
					result[key] = s.stringFromFile(c)
				} else {
					result[key] = c.value
				}
			case typeArray:
				if c.external {
					result[key] = s.bytesFromFile(c)
				} else {
					result[key] = copyBytes(c.value.([]byte))
				}
			default:
				if c.external {
					result[key] = s.objectFromFile(c)
				} else {
					result[key] = c.value
				}
			}
		}
	}
	return result
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (s *store) PutBool(key string, value bool) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.fixedContainerFor(key, typeBoolean)
	if c == nil {
		if err := s.wrapHeader(key, typeBoolean, typeSize[typeBoolean]); err != nil {
			return err
		}
		offset := s.buf.Pos
		s.buf.Put(boolByte(value))
		s.updateChange()
		s.data[key] = &boolContainer{offset: offset, value: value}
		s.checkIfCommit()
	} else if bc := c.(*boolContainer); bc.value != value {
		bc.value = value
		s.updateBool(boolByte(value), bc.offset)
		s.checkIfCommit()
	}
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func (s *store) PutInt32(key string, value int32) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.fixedContainerFor(key, typeInt32)
	if c == nil {
		if err := s.wrapHeader(key, typeInt32, typeSize[typeInt32]); err != nil {
			return err
		}
		offset := s.buf.Pos
		s.buf.PutInt32(value)
		s.updateChange()
		s.data[key] = &int32Container{offset: offset, value: value}
		s.checkIfCommit()
	} else if ic := c.(*int32Container); ic.value != value {
		sum := uint64(uint32(value ^ ic.value))
		ic.value = value
		s.updateInt32(value, sum, ic.offset)
		s.checkIfCommit()
	}
	return nil
}

func (s *store) PutInt64(key string, value int64) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.fixedContainerFor(key, typeInt64)
	if c == nil {
		if err := s.wrapHeader(key, typeInt64, typeSize[typeInt64]); err != nil {
			return err
		}
		offset := s.buf.Pos
		s.buf.PutInt64(value)
		s.updateChange()
		s.data[key] = &int64Container{offset: offset, value: value}
		s.checkIfCommit()
	} else if lc := c.(*int64Container); lc.value != value {
		sum := uint64(value ^ lc.value)
		lc.value = value
		s.updateInt64(value, sum, lc.offset)
		s.checkIfCommit()
	}
	return nil
}

func (s *store) PutFloat32(key string, value float32) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.fixedContainerFor(key, typeFloat32)
	if c == nil {
		if err := s.wrapHeader(key, typeFloat32, typeSize[typeFloat32]); err != nil {
			return err
		}
		offset := s.buf.Pos
		s.buf.PutInt32(floatToInt32Bits(value))
		s.updateChange()
		s.data[key] = &float32Container{offset: offset, value: value}
		s.checkIfCommit()
	} else if fc := c.(*float32Container); fc.value != value {
		newBits := floatToInt32Bits(value)
		sum := uint64(uint32(floatToInt32Bits(fc.value) ^ newBits))
		fc.value = value
		s.updateInt32(newBits, sum, fc.offset)
		s.checkIfCommit()
	}
	return nil
}

func (s *store) PutFloat64(key string, value float64) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.fixedContainerFor(key, typeFloat64)
	if c == nil {
		if err := s.wrapHeader(key, typeFloat64, typeSize[typeFloat64]); err != nil {
			return err
		}
		offset := s.buf.Pos
		s.buf.PutInt64(floatToInt64Bits(value))
		s.updateChange()
		s.data[key] = &float64Container{offset: offset, value: value}
		s.checkIfCommit()
	} else if dc := c.(*float64Container); dc.value != value {
		newBits := floatToInt64Bits(value)
		sum := uint64(floatToInt64Bits(dc.value) ^ newBits)
		dc.value = value
		s.updateInt64(newBits, sum, dc.offset)
		s.checkIfCommit()
	}
	return nil
}

func (s *store) PutString(key string, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.varContainerFor(key, typeString)
	if buffer.StringSize(value) < s.internalLimit {
		// putString is frequent; short strings take a dedicated path that
		// can overwrite same-length values in place.
		return s.fastPutString(key, value, c)
	}
	return s.addOrUpdate(key, value, []byte(value), c, typeString)
}

func (s *store) PutBytes(key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		s.Remove(key)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.varContainerFor(key, typeArray)
	owned := copyBytes(value)
	return s.addOrUpdate(key, owned, owned, c, typeArray)
}

func (s *store) PutObject(key string, value any, encoder kv.Encoder) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if encoder == nil {
		return kv.ErrEncoderNil
	}
	tag := encoder.Tag()
	if tag == "" || len(tag) > 50 {
		return kv.ErrBadEncoderTag
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, registered := s.encoders[tag]; !registered {
		return kv.ErrEncoderUnregistered
	}
	if value == nil {
		s.removeLocked(key)
		return nil
	}
	obj, err := encoder.Encode(value)
	if err != nil {
		s.error(err)
		obj = nil
	}
	if obj == nil {
		s.removeLocked(key)
		return nil
	}

	// assemble the object body: tag length, tag, encoded payload
	tagSize := buffer.StringSize(tag)
	body := buffer.New(1 + tagSize + len(obj))
	body.Put(byte(tagSize))
	body.PutString(tag)
	body.PutBytes(obj)

	c := s.varContainerFor(key, typeObject)
	return s.addOrUpdate(key, value, body.B, c, typeObject)
}

func (s *store) PutStringSet(key string, set []string) error {
	if set == nil {
		s.Remove(key)
		return nil
	}
	return s.PutObject(key, set, kv.StringSetEncoder)
}

func (s *store) PutAll(values map[string]any) {
	for key, value := range values {
		if key == "" {
			continue
		}
		var err error
		switch v := value.(type) {
		case bool:
			err = s.PutBool(key, v)
		case int32:
			err = s.PutInt32(key, v)
		case int:
			err = s.PutInt64(key, int64(v))
		case int64:
			err = s.PutInt64(key, v)
		case float32:
			err = s.PutFloat32(key, v)
		case float64:
			err = s.PutFloat64(key, v)
		case string:
			err = s.PutString(key, v)
		case []byte:
			err = s.PutBytes(key, v)
		case []string:
			err = s.PutStringSet(key, v)
		default:
			s.warning(fmt.Errorf("missing encoder for type %T", value))
		}
		if err != nil {
			s.warning(err)
		}
	}
}

func (s *store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

func (s *store) removeLocked(key string) {
	c, ok := s.data[key]
	if !ok {
		return
	}
	s.removeContainer(key, c)
	s.checkGC()
	s.checkIfCommit()
}

func (s *store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetData()
	if s.writingMode != nonBlocking {
		s.deleteCFiles()
	}
}

// --------------------------------------------------------------------------
// Persistence Control
// --------------------------------------------------------------------------

// Force flushes the mapped regions to the storage device. Without it, a
// power failure shortly after a mutation may lose the most recent
// updates even in non-blocking mode.
func (s *store) Force() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writingMode != nonBlocking {
		return
	}
	if err := msync(s.aMap); err != nil {
		s.warning(err)
	}
	if err := msync(s.bMap); err != nil {
		s.warning(err)
	}
}

func (s *store) DisableAutoCommit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoCommit = false
}

func (s *store) Commit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoCommit = true
	return s.commitToCFile()
}
