package cedar

import (
	"sort"

	"github.com/cedarkv/cedar/lib/kv/util"
)

// bytesThreshold scales the GC trigger with the size of the data region.
func (s *store) bytesThreshold() int {
	if s.dataEnd <= 1<<14 {
		return baseGCBytesThreshold
	}
	if s.dataEnd <= 1<<16 {
		return baseGCBytesThreshold << 1
	}
	return baseGCBytesThreshold << 2
}

// checkGC fires a collection when enough tombstoned bytes or segments
// have piled up.
func (s *store) checkGC() {
	keysThreshold := baseGCKeysThreshold
	if s.dataEnd >= 1<<14 {
		keysThreshold = baseGCKeysThreshold << 1
	}
	if s.invalidBytes >= s.bytesThreshold()<<1 || len(s.invalids) >= keysThreshold {
		s.gc(0)
	}
}

// mergeInvalids coalesces adjacent segments of the sorted invalid list.
func (s *store) mergeInvalids() {
	i := len(s.invalids) - 1
	p := &s.invalids[i]
	for i > 0 {
		i--
		q := &s.invalids[i]
		if p.start == q.end {
			q.end = p.end
			s.invalids = append(s.invalids[:i+1], s.invalids[i+2:]...)
		}
		p = q
	}
}

// gc compacts the data region in place: live bytes between invalid
// segments are shifted left into the holes, the checksum is repaired
// (incrementally when cheaper than a full rescan), both mirrors are
// patched with the same marker protocol as ordinary writes, and all
// container offsets are rebased. allocate is the size of the write that
// triggered the collection, reserved before deciding to truncate.
func (s *store) gc(allocate int) {
	if len(s.invalids) == 0 {
		return
	}
	sort.Slice(s.invalids, func(i, j int) bool { return s.invalids[i].start < s.invalids[j].start })
	s.mergeInvalids()

	head := s.invalids[0]
	gcStart := head.start
	newDataEnd := s.dataEnd - s.invalidBytes
	newDataSize := newDataEnd - dataStart
	updateSize := newDataEnd - gcStart
	gcSize := s.dataEnd - gcStart
	fullChecksum := newDataSize < gcSize+updateSize
	if !fullChecksum {
		s.checksum ^= s.buf.Checksum(gcStart, gcSize)
	}

	// compact live ranges leftward, remembering (src, shift) per hole
	n := len(s.invalids)
	remain := s.dataEnd - s.invalids[n-1].end
	shiftCount := n
	if remain == 0 {
		shiftCount = n - 1
	}
	srcToShift := make([]int, shiftCount<<1)
	desPos := head.start
	srcPos := head.end
	for i := 1; i < n; i++ {
		q := s.invalids[i]
		size := q.start - srcPos
		copy(s.buf.B[desPos:desPos+size], s.buf.B[srcPos:])
		index := (i - 1) << 1
		srcToShift[index] = srcPos
		srcToShift[index+1] = srcPos - desPos
		desPos += size
		srcPos = q.end
	}
	if remain > 0 {
		copy(s.buf.B[desPos:desPos+remain], s.buf.B[srcPos:])
		index := (n - 1) << 1
		srcToShift[index] = srcPos
		srcToShift[index+1] = srcPos - desPos
	}
	s.clearInvalid()

	if fullChecksum {
		s.checksum = s.buf.Checksum(dataStart, newDataEnd-dataStart)
	} else {
		s.checksum ^= s.buf.Checksum(gcStart, newDataEnd-gcStart)
	}
	s.dataEnd = newDataEnd

	if s.writingMode == nonBlocking {
		putInt32(s.aMap, 0, -1)
		putUint64(s.aMap, 4, s.checksum)
		copy(s.aMap[gcStart:gcStart+updateSize], s.buf.B[gcStart:])
		putInt32(s.aMap, 0, int32(newDataSize))
		putInt32(s.bMap, 0, int32(newDataSize))
		putUint64(s.bMap, 4, s.checksum)
		copy(s.bMap[gcStart:gcStart+updateSize], s.buf.B[gcStart:])
	} else {
		s.buf.PutInt32At(0, int32(newDataSize))
		s.buf.PutUint64At(4, s.checksum)
	}

	s.updateOffsets(gcStart, srcToShift)
	expectedEnd := newDataEnd + allocate
	if len(s.buf.B)-expectedEnd > truncateThreshold {
		s.truncate(expectedEnd)
	}
	s.mGCRuns.Inc()
	s.info("gc finish")
}

// updateOffsets rebases every container whose record sat right of the
// first hole.
func (s *store) updateOffsets(gcStart int, srcToShift []int) {
	for _, c := range s.data {
		if valueOffset(c) > gcStart {
			index := util.BinarySearchPairs(srcToShift, valueOffset(c))
			if index < 0 {
				continue
			}
			shiftContainer(c, srcToShift[index<<1|1])
		}
	}
}
