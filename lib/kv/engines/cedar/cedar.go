package cedar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gofrs/flock"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cedarkv/cedar/lib/kv"
	"github.com/cedarkv/cedar/lib/kv/buffer"
	"github.com/cedarkv/cedar/lib/kv/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	aSuffix    = ".kva"
	bSuffix    = ".kvb"
	cSuffix    = ".kvc"
	tempSuffix = ".tmp"
	lockSuffix = ".lock"

	// dataStart is the offset of the first record: 4 bytes dataSize plus
	// 8 bytes checksum.
	dataStart = 12

	// dataSizeLimit bounds the whole data region.
	dataSizeLimit = 1 << 29

	baseGCKeysThreshold  = 80
	baseGCBytesThreshold = 4096
)

var (
	pageSize          = util.PageSize()
	doubleLimit       = maxInt(pageSize<<1, 1<<14)
	truncateThreshold = doubleLimit << 1
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// writingMode selects how mutations reach disk. Once degraded from
// nonBlocking a store never returns to it.
type writingMode int

const (
	nonBlocking writingMode = iota
	asyncBlocking
	syncBlocking
)

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// store implements kv.Store. All state is guarded by mu; every public
// method takes it and runs to completion.
type store struct {
	mu   sync.Mutex
	path string
	name string

	encoders map[string]kv.Encoder
	logger   kv.Logger

	fileStore // A/B files and mappings

	buf      *buffer.Buffer
	dataEnd  int
	checksum uint64
	data     map[string]container

	// transient state of the mutation in flight
	updateStart      int
	updateSize       int
	removeStart      int
	sizeChanged      bool
	tempExternalName string

	invalidBytes int
	invalids     []segment

	writingMode   writingMode
	autoCommit    bool
	internalLimit int

	deletedFiles []deletedFile

	applyExecutor    *util.LimitExecutor
	externalExecutor *util.TagExecutor
	externalCache    *xsync.MapOf[string, []byte]
	bigValueCache    *xsync.MapOf[string, any]

	dirLock *flock.Flock

	mLoads           *metrics.Counter
	mCommits         *metrics.Counter
	mGCRuns          *metrics.Counter
	mTruncates       *metrics.Counter
	mDegrades        *metrics.Counter
	mExternalWrites  *metrics.Counter
	mExternalDeletes *metrics.Counter
}

// deletedFile is a sidecar removal deferred until the next successful
// commit in the blocking modes.
type deletedFile struct {
	key      string
	fileName string
}

// --------------------------------------------------------------------------
// Builder
// --------------------------------------------------------------------------

// instances deduplicates stores process-wide by canonical path+name.
var instances = xsync.NewMapOf[string, *store]()

// Builder creates stores. Two builds with the same path and name return
// the same instance; the options of the first build win.
type Builder struct {
	path     string
	name     string
	encoders []kv.Encoder
	mode     writingMode
}

// NewBuilder prepares a builder for the store files <name>.* under the
// directory path.
func NewBuilder(path, name string) *Builder {
	return &Builder{path: path, name: name, mode: nonBlocking}
}

// Encoders registers object encoders for this store. The built-in string
// set encoder is always registered.
func (b *Builder) Encoders(encoders ...kv.Encoder) *Builder {
	b.encoders = append(b.encoders, encoders...)
	return b
}

// Blocking selects the synchronous blocking writing mode: every update
// rewrites the whole committed file. Use only when updates are rare and
// every one of them must hit the disk before the put returns.
func (b *Builder) Blocking() *Builder {
	b.mode = syncBlocking
	return b
}

// AsyncBlocking is like Blocking but pushes the file rewrite to a
// background executor with coalescing.
func (b *Builder) AsyncBlocking() *Builder {
	b.mode = asyncBlocking
	return b
}

// Build returns the store, creating and loading it on first use.
func (b *Builder) Build() (kv.Store, error) {
	if b.path == "" {
		return nil, kv.ErrKeyEmpty
	}
	if b.name == "" || strings.ContainsRune(b.name, filepath.Separator) {
		return nil, kv.ErrKeyEmpty
	}
	key := filepath.Join(filepath.Clean(b.path), b.name)
	s, _ := instances.LoadOrCompute(key, func() *store {
		return newStore(filepath.Clean(b.path), b.name, b.encoders, b.mode)
	})
	return s, nil
}

func newStore(path, name string, encoders []kv.Encoder, mode writingMode) *store {
	s := &store{
		path:          path,
		name:          name,
		logger:        kv.CurrentLogger(),
		writingMode:   mode,
		autoCommit:    true,
		internalLimit: kv.InternalLimit(),
		data:          make(map[string]container),
		externalCache: xsync.NewMapOf[string, []byte](),
		bigValueCache: xsync.NewMapOf[string, any](),
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		s.error(err)
	}

	pool := kv.SharedExecutor()
	s.applyExecutor = util.NewLimitExecutor(pool)
	s.externalExecutor = util.NewTagExecutor(pool)

	encoderMap := map[string]kv.Encoder{kv.StringSetEncoder.Tag(): kv.StringSetEncoder}
	for _, e := range encoders {
		if e == nil {
			continue
		}
		tag := e.Tag()
		if _, dup := encoderMap[tag]; dup {
			s.error(fmt.Errorf("duplicate encoder tag: %s", tag))
			continue
		}
		encoderMap[tag] = e
	}
	s.encoders = encoderMap

	s.mLoads = storeCounter("cedar_loads_total", name)
	s.mCommits = storeCounter("cedar_commits_total", name)
	s.mGCRuns = storeCounter("cedar_gc_runs_total", name)
	s.mTruncates = storeCounter("cedar_truncates_total", name)
	s.mDegrades = storeCounter("cedar_mode_degradations_total", name)
	s.mExternalWrites = storeCounter("cedar_sidecar_writes_total", name)
	s.mExternalDeletes = storeCounter("cedar_sidecar_deletes_total", name)

	s.dirLock = flock.New(filepath.Join(path, name+lockSuffix))
	if ok, err := s.dirLock.TryLock(); err != nil || !ok {
		// Another process holds the store files. Behavior is undefined
		// from here on; make the violation visible and continue.
		s.warning(fmt.Errorf("store %s is locked by another process", name))
	}

	// The loader runs on the shared executor but the constructor must
	// not return before it holds the store lock, so callers can never
	// observe the store ahead of parsing.
	loaded := make(chan struct{})
	pool.Execute(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		close(loaded)
		s.loadData()
	})
	<-loaded
	return s
}

func storeCounter(name, storeName string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`%s{store=%q}`, name, storeName))
}

// --------------------------------------------------------------------------
// Loading
// --------------------------------------------------------------------------

func (s *store) loadData() {
	start := time.Now()
	if !s.loadFromCFile() && s.writingMode == nonBlocking {
		s.loadFromABFile()
	}
	if s.buf == nil {
		s.buf = buffer.New(pageSize)
	}
	if s.dataEnd < dataStart {
		s.dataEnd = dataStart
	}
	s.mLoads.Inc()
	s.info(fmt.Sprintf("loading finish, data len:%d, get keys:%d, use time:%s",
		s.dataEnd-dataStart, len(s.data), time.Since(start).Round(time.Microsecond)))
}

// --------------------------------------------------------------------------
// Logging helpers
// --------------------------------------------------------------------------

func (s *store) info(message string) {
	if s.logger != nil {
		s.logger.Info(s.name, message)
	}
}

func (s *store) warning(err error) {
	if s.logger != nil {
		s.logger.Warning(s.name, err)
	}
}

func (s *store) error(err error) {
	if s.logger != nil {
		s.logger.Error(s.name, err)
	}
}
