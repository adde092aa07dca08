package cedar

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Sidecar Reads
// --------------------------------------------------------------------------

// readSidecar returns the payload bytes of an external value, consulting
// the file-name cache first. Read failures are logged and yield nil.
func (s *store) readSidecar(fileName string) []byte {
	if cached, ok := s.externalCache.Load(fileName); ok {
		return cached
	}
	data, err := os.ReadFile(filepath.Join(s.path, s.name, fileName))
	if err != nil {
		s.error(errors.Wrap(err, "read external value"))
		return nil
	}
	return data
}

func (s *store) stringFromFile(c *varContainer) string {
	data := s.readSidecar(c.value.(string))
	return string(data)
}

func (s *store) bytesFromFile(c *varContainer) []byte {
	if data := s.readSidecar(c.value.(string)); data != nil {
		return data
	}
	return []byte{}
}

func (s *store) objectFromFile(c *varContainer) any {
	data := s.readSidecar(c.value.(string))
	if data == nil {
		s.warning(errors.New("read object data failed"))
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	tagSize := int(data[0])
	if 1+tagSize > len(data) {
		s.warning(errors.New("read object data failed"))
		return nil
	}
	tag := string(data[1 : 1+tagSize])
	encoder := s.encoders[tag]
	if encoder == nil {
		s.warning(fmt.Errorf("no encoder for tag: %s", tag))
		return nil
	}
	obj, err := encoder.Decode(data[1+tagSize:])
	if err != nil {
		s.error(err)
		return nil
	}
	return obj
}
