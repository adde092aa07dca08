package cedar

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/cedarkv/cedar/lib/kv"
	"github.com/cedarkv/cedar/lib/kv/buffer"
	"github.com/cedarkv/cedar/lib/kv/util"
)

// fileStore owns the two mirror files and their mappings. Both mappings
// always have the same length as the in-memory buffer while the store is
// in non-blocking mode.
type fileStore struct {
	aFile *os.File
	bFile *os.File
	aMap  []byte
	bMap  []byte
}

func putInt32(m []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(m[off:], uint32(v))
}

func int32At(m []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(m[off:]))
}

func putUint64(m []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(m[off:], v)
}

func uint64At(m []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(m[off:])
}

// --------------------------------------------------------------------------
// Open / Recovery
// --------------------------------------------------------------------------

// openMirror opens one mirror file and maps it. Files shorter than one
// page (including fresh and crash-truncated ones) are extended to a full
// page first so the header is always addressable; the zero padding never
// passes the checksum, so recovery semantics are unchanged.
func openMirror(path string) (f *os.File, m []byte, fileLen int64, err error) {
	f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, 0, err
	}
	fileLen = st.Size()
	capacity := int(fileLen)
	if capacity < pageSize {
		if err = f.Truncate(int64(pageSize)); err != nil {
			_ = f.Close()
			return nil, nil, 0, err
		}
		capacity = pageSize
	}
	m, err = mmapFile(f, capacity)
	if err != nil {
		_ = f.Close()
		return nil, nil, 0, err
	}
	return f, m, fileLen, nil
}

func (s *store) loadFromABFile() {
	aPath := filepath.Join(s.path, s.name+aSuffix)
	bPath := filepath.Join(s.path, s.name+bSuffix)

	aFile, aMap, aLen, aErr := openMirror(aPath)
	if aErr != nil {
		s.error(errors.Wrap(aErr, "open file failed"))
		s.toBlockingMode()
		s.tryBlockingIO(aPath, bPath)
		return
	}
	bFile, bMap, bLen, bErr := openMirror(bPath)
	if bErr != nil {
		_ = munmap(aMap)
		_ = aFile.Close()
		s.error(errors.Wrap(bErr, "open file failed"))
		s.toBlockingMode()
		s.tryBlockingIO(aPath, bPath)
		return
	}
	s.aFile, s.aMap = aFile, aMap
	s.bFile, s.bMap = bFile, bMap
	s.buf = buffer.New(len(aMap))

	if aLen == 0 && bLen == 0 {
		s.dataEnd = dataStart
		return
	}

	aDataSize := int32At(s.aMap, 0)
	aChecksum := uint64At(s.aMap, 4)
	bDataSize := int32At(s.bMap, 0)
	bChecksum := uint64At(s.bMap, 4)

	aValid := false
	if aDataSize >= 0 && int(aDataSize) <= len(s.aMap)-dataStart {
		s.dataEnd = dataStart + int(aDataSize)
		copy(s.buf.B, s.aMap[:s.dataEnd])
		if aChecksum == s.buf.Checksum(dataStart, int(aDataSize)) && s.parseData() == nil {
			s.checksum = aChecksum
			aValid = true
		}
	}
	if aValid {
		if len(s.aMap) != len(s.bMap) || !bytes.Equal(s.aMap[:s.dataEnd], s.bMap[:s.dataEnd]) {
			s.warning(errors.New("B file error"))
			s.copyMirror(true)
		}
		return
	}

	bValid := false
	if bDataSize >= 0 && int(bDataSize) <= len(s.bMap)-dataStart {
		s.clearIndex()
		s.clearInvalid()
		s.dataEnd = dataStart + int(bDataSize)
		if len(s.buf.B) != len(s.bMap) {
			s.buf = buffer.New(len(s.bMap))
		}
		copy(s.buf.B, s.bMap[:s.dataEnd])
		if bChecksum == s.buf.Checksum(dataStart, int(bDataSize)) && s.parseData() == nil {
			s.warning(errors.New("A file error"))
			s.copyMirror(false)
			s.checksum = bChecksum
			bValid = true
		}
	}
	if !bValid {
		s.error(errors.New("both files error"))
		s.resetData()
	}
}

// copyMirror overwrites one mirror with the other over [0, dataEnd),
// remapping the destination first when the capacities differ.
func (s *store) copyMirror(aToB bool) {
	src, dst, dstFile := s.aMap, s.bMap, s.bFile
	if !aToB {
		src, dst, dstFile = s.bMap, s.aMap, s.aFile
	}
	if len(src) != len(dst) {
		_ = munmap(dst)
		if err := dstFile.Truncate(int64(len(src))); err != nil {
			s.error(errors.Wrap(err, "map failed"))
			s.toBlockingMode()
			return
		}
		m, err := mmapFile(dstFile, len(src))
		if err != nil {
			s.error(errors.Wrap(err, "map failed"))
			s.toBlockingMode()
			return
		}
		if aToB {
			s.bMap = m
		} else {
			s.aMap = m
		}
		dst = m
	}
	copy(dst[:s.dataEnd], src[:s.dataEnd])
}

// writeToABFile materializes the buffer into fresh A/B mirrors. Used
// when recovering a non-blocking store from a committed single file.
func (s *store) writeToABFile(buf *buffer.Buffer) bool {
	fileLen := len(buf.B)
	for _, suffix := range []string{aSuffix, bSuffix} {
		path := filepath.Join(s.path, s.name+suffix)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err == nil {
			err = f.Truncate(int64(fileLen))
		}
		var m []byte
		if err == nil {
			m, err = mmapFile(f, fileLen)
		}
		if err != nil {
			if f != nil {
				_ = f.Close()
			}
			s.error(errors.Wrap(err, "open file failed"))
			return false
		}
		copy(m[:s.dataEnd], buf.B[:s.dataEnd])
		if suffix == aSuffix {
			s.aFile, s.aMap = f, m
		} else {
			s.bFile, s.bMap = f, m
		}
	}
	return true
}

func (s *store) loadFromCFile() bool {
	cPath := filepath.Join(s.path, s.name+cSuffix)
	tmpPath := filepath.Join(s.path, s.name+tempSuffix)

	srcPath := ""
	if _, err := os.Stat(cPath); err == nil {
		srcPath = cPath
	} else if _, err := os.Stat(tmpPath); err == nil {
		srcPath = tmpPath
	}
	if srcPath == "" {
		// The store may have been opened in non-blocking mode before and
		// switched to a blocking mode now; recover from the mirrors.
		if s.writingMode != nonBlocking {
			aPath := filepath.Join(s.path, s.name+aSuffix)
			bPath := filepath.Join(s.path, s.name+bSuffix)
			if fileExists(aPath) && fileExists(bPath) {
				s.tryBlockingIO(aPath, bPath)
			}
		}
		return false
	}

	ok, err := s.loadWithBlockingIO(srcPath)
	if err != nil {
		s.warning(err)
		ok = false
	}
	if !ok {
		s.clearData()
		s.deleteCFiles()
		return false
	}
	if s.writingMode != nonBlocking {
		return false
	}
	if s.writeToABFile(s.buf) {
		s.info("recover from c file")
		s.deleteCFiles()
		return true
	}
	s.toBlockingMode()
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *store) tryBlockingIO(aPath, bPath string) {
	if ok, err := s.loadWithBlockingIO(aPath); err != nil {
		s.warning(err)
	} else if ok {
		return
	}
	s.clearData()
	if ok, err := s.loadWithBlockingIO(bPath); err != nil {
		s.warning(err)
	} else if ok {
		return
	}
	s.clearData()
}

// loadWithBlockingIO reads a whole image file into the buffer and
// validates it. Returns true when the image was parsed successfully.
func (s *store) loadWithBlockingIO(path string) (bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	fileLen := st.Size()
	if fileLen == 0 || fileLen > dataSizeLimit {
		return false, nil
	}
	fileSize := int(fileLen)
	capacity, err := getNewCapacity(pageSize, fileSize)
	if err != nil {
		return false, err
	}
	if s.buf == nil || len(s.buf.B) != capacity {
		s.buf = buffer.New(capacity)
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err = io.ReadFull(f, s.buf.B[:fileSize]); err != nil {
		return false, errors.Wrap(err, "read image")
	}
	s.buf.Pos = 0
	dataSize := s.buf.GetInt32()
	sum := uint64(s.buf.GetInt64())
	s.dataEnd = dataStart + int(dataSize)
	if dataSize >= 0 && int(dataSize) <= fileSize-dataStart &&
		sum == s.buf.Checksum(dataStart, int(dataSize)) && s.parseData() == nil {
		s.checksum = sum
		return true, nil
	}
	return false, nil
}

// --------------------------------------------------------------------------
// Mode Degradation / Reset
// --------------------------------------------------------------------------

// toBlockingMode drops the mappings and continues with the in-memory
// buffer only. The transition is permanent for this store.
func (s *store) toBlockingMode() {
	s.writingMode = asyncBlocking
	if s.aMap != nil {
		_ = munmap(s.aMap)
		s.aMap = nil
	}
	if s.bMap != nil {
		_ = munmap(s.bMap)
		s.bMap = nil
	}
	if s.aFile != nil {
		_ = s.aFile.Close()
		s.aFile = nil
	}
	if s.bFile != nil {
		_ = s.bFile.Close()
		s.bFile = nil
	}
	s.mDegrades.Inc()
}

func (s *store) resetData() {
	if s.writingMode == nonBlocking {
		if err := s.resetMirrors(); err != nil {
			s.error(err)
			s.toBlockingMode()
		}
	}
	s.clearData()
	_ = os.RemoveAll(filepath.Join(s.path, s.name))
}

// resetMirrors shrinks both mirrors back to one page and zeroes their
// headers.
func (s *store) resetMirrors() error {
	if len(s.aMap) != pageSize || len(s.bMap) != pageSize {
		if err := s.remapMirrors(pageSize); err != nil {
			return err
		}
	}
	putInt32(s.aMap, 0, 0)
	putUint64(s.aMap, 4, 0)
	putInt32(s.bMap, 0, 0)
	putUint64(s.bMap, 4, 0)
	return nil
}

func (s *store) clearIndex() {
	for k := range s.data {
		delete(s.data, k)
	}
}

func (s *store) clearData() {
	s.dataEnd = dataStart
	s.checksum = 0
	s.clearInvalid()
	s.clearIndex()
	s.bigValueCache.Clear()
	s.externalCache.Clear()
	if s.buf == nil || len(s.buf.B) != pageSize {
		s.buf = buffer.New(pageSize)
	} else {
		s.buf.PutInt32At(0, 0)
		s.buf.PutUint64At(4, 0)
	}
}

func (s *store) deleteCFiles() {
	if err := util.DeleteFile(filepath.Join(s.path, s.name+cSuffix)); err != nil {
		s.error(err)
	}
	if err := util.DeleteFile(filepath.Join(s.path, s.name+tempSuffix)); err != nil {
		s.error(err)
	}
}

// --------------------------------------------------------------------------
// Capacity Management
// --------------------------------------------------------------------------

// getNewCapacity picks the next buffer capacity covering expected:
// one page for small stores, then doubling up to doubleLimit, then
// linear doubleLimit steps, hard-capped at dataSizeLimit.
func getNewCapacity(capacity, expected int) (int, error) {
	if expected > dataSizeLimit {
		return 0, kv.ErrDataSizeLimit
	}
	if expected <= pageSize {
		return pageSize, nil
	}
	for capacity < expected {
		if capacity <= doubleLimit {
			capacity <<= 1
		} else {
			capacity += doubleLimit
		}
	}
	return capacity, nil
}

// ensureSize makes room for allocate more bytes at dataEnd, either by
// collecting enough garbage or by growing the buffer and remapping the
// mirrors.
func (s *store) ensureSize(allocate int) error {
	capacity := len(s.buf.B)
	expected := s.dataEnd + allocate
	if expected < capacity {
		return nil
	}
	if s.invalidBytes > allocate && s.invalidBytes > s.bytesThreshold() {
		s.gc(allocate)
		return nil
	}
	newCapacity, err := getNewCapacity(capacity, expected)
	if err != nil {
		return err
	}
	grown := make([]byte, newCapacity)
	copy(grown, s.buf.B[:s.dataEnd])
	s.buf.B = grown
	if s.writingMode == nonBlocking {
		if err := s.remapMirrors(newCapacity); err != nil {
			s.error(errors.Wrap(err, "map failed"))
			s.buf.PutInt32At(0, int32(s.dataEnd-dataStart))
			s.buf.PutUint64At(4, s.checksum)
			s.toBlockingMode()
		}
	}
	return nil
}

// remapMirrors resizes both mirror files to newCapacity and remaps them.
func (s *store) remapMirrors(newCapacity int) error {
	for i, f := range []*os.File{s.aFile, s.bFile} {
		old := s.aMap
		if i == 1 {
			old = s.bMap
		}
		if old != nil {
			_ = munmap(old)
		}
		if i == 0 {
			s.aMap = nil
		} else {
			s.bMap = nil
		}
		if err := f.Truncate(int64(newCapacity)); err != nil {
			return err
		}
		m, err := mmapFile(f, newCapacity)
		if err != nil {
			return err
		}
		if i == 0 {
			s.aMap = m
		} else {
			s.bMap = m
		}
	}
	return nil
}

// truncate shrinks the buffer and both mirrors after GC freed enough
// space, keeping at least one page of reserve.
func (s *store) truncate(expectedEnd int) {
	newCapacity, err := getNewCapacity(pageSize, expectedEnd+pageSize)
	if err != nil || newCapacity >= len(s.buf.B) {
		return
	}
	shrunk := make([]byte, newCapacity)
	copy(shrunk, s.buf.B[:s.dataEnd])
	s.buf.B = shrunk
	if s.writingMode == nonBlocking {
		if err := s.remapMirrors(newCapacity); err != nil {
			s.error(errors.Wrap(err, "map failed"))
			s.toBlockingMode()
		}
	}
	s.mTruncates.Inc()
	s.info("truncate finish")
}
