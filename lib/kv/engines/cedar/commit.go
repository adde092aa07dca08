package cedar

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/cedarkv/cedar/lib/kv/util"
)

// --------------------------------------------------------------------------
// Blocking-Mode Commits
// --------------------------------------------------------------------------

// checkIfCommit persists the buffer after a mutation in the blocking
// modes unless commits are being batched.
func (s *store) checkIfCommit() {
	if s.writingMode != nonBlocking && s.autoCommit {
		s.commitToCFile()
	}
}

func (s *store) commitToCFile() bool {
	switch s.writingMode {
	case asyncBlocking:
		s.applyExecutor.Execute(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.writeToCFileLocked()
		})
	case syncBlocking:
		return s.writeToCFileLocked()
	}
	return true
}

// writeToCFileLocked writes the whole buffer to the temp file and
// renames it over the committed file; the rename is the commit point.
// Pending sidecar deletions are flushed only after a successful rename.
func (s *store) writeToCFileLocked() bool {
	tmpPath := filepath.Join(s.path, s.name+tempSuffix)
	cPath := filepath.Join(s.path, s.name+cSuffix)
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		s.error(errors.Wrap(err, "commit"))
		return false
	}
	if err := os.WriteFile(tmpPath, s.buf.B[:s.dataEnd], 0o644); err != nil {
		s.error(errors.Wrap(err, "commit"))
		return false
	}
	if err := os.Rename(tmpPath, cPath); err != nil {
		s.warning(errors.Wrap(err, "rename failed"))
		return false
	}
	s.clearDeletedFiles()
	s.mCommits.Inc()
	return true
}

// clearDeletedFiles flushes sidecar removals deferred by the blocking
// modes, each on the per-key executor to stay ordered with writes.
func (s *store) clearDeletedFiles() {
	if len(s.deletedFiles) == 0 {
		return
	}
	for _, df := range s.deletedFiles {
		path := filepath.Join(s.path, s.name, df.fileName)
		counter := s.mExternalDeletes
		logger := s.logger
		name := s.name
		s.externalExecutor.Execute(df.key, func() {
			if err := util.DeleteFile(path); err != nil {
				if logger != nil {
					logger.Warning(name, err)
				}
				return
			}
			counter.Inc()
		})
	}
	s.deletedFiles = s.deletedFiles[:0]
}
