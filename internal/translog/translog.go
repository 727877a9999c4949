// Package translog implements the durable, append-only write-ahead log
// the engine appends every mutation to before returning a result (spec
// §3 "Translog", §4.1 "Translog append", §6 "translog_generation").
// It is grounded on the teacher's file-backed append log
// (fs/transaction_log.go): one bufio-wrapped *os.File per generation,
// JSON-encoded records, one line per record.
package translog

import (
	"bufio"
	"encoding/json"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	shardengine "github.com/sop-labs/shardengine"
)

// Kind discriminates translog record variants.
type Kind int

const (
	KindIndex Kind = iota
	KindDelete
)

// Op is the wire record appended for every non-recovery-origin
// mutation (spec §4.1): {kind, uid, version, source_doc|∅, seq}.
type Op struct {
	Kind    Kind
	Uid     []byte
	Version int64
	Source  []byte // nil for deletes
	SeqNo   int64
}

// Location pinpoints a durably appended op: which generation's file,
// and the byte offset immediately after the record. The flush fence
// (spec §5) is defined in terms of Location comparison.
type Location struct {
	Generation uint64
	Offset     int64
}

// Less reports whether l sorts before o: lower generation first, then
// lower offset within the same generation. Used to decide whether an
// op's Location is covered by a just-committed translog generation.
func (l Location) Less(o Location) bool {
	if l.Generation != o.Generation {
		return l.Generation < o.Generation
	}
	return l.Offset < o.Offset
}

// Generation identifies the translog instance bound to a segment-store
// commit (spec §3 TranslogGeneration, §6 commit userData keys).
type Generation struct {
	UUID    shardengine.UUID
	FileGen uint64
}

// Translog is the durable append log owned exclusively by one engine
// between Open and Close (spec §5).
type Translog struct {
	dir  string
	uuid shardengine.UUID

	mu          sync.Mutex
	fileGen     uint64
	file        *os.File
	writer      *bufio.Writer
	encoder     *json.Encoder
	offset      int64
	seq         int64
	pendingGens []uint64 // generations rolled past by PrepareCommit, deleted on Commit

	tragic atomic.Value // holds error
}

const fileExt = ".tlog"

// New creates a fresh translog in dir with a brand-new uuid, starting
// at file generation 1. Used on CREATE_INDEX_AND_TRANSLOG open.
func New(dir string) (*Translog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("translog: mkdir %q: %w", dir, err)
	}
	t := &Translog{dir: dir, uuid: shardengine.NewUUID(), fileGen: 1}
	if err := t.openCurrent(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open reopens a translog at the given generation, for
// OPEN_INDEX_AND_TRANSLOG recovery. It appends to the existing file for
// that generation if present, or creates it if the prior process died
// before ever writing to it.
func Open(dir string, gen Generation) (*Translog, error) {
	t := &Translog{dir: dir, uuid: gen.UUID, fileGen: gen.FileGen}
	if err := t.openCurrent(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Translog) openCurrent() error {
	name := t.fileName(t.fileGen)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("translog: open %q: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("translog: stat %q: %w", name, err)
	}
	t.file = f
	t.writer = bufio.NewWriter(f)
	t.encoder = json.NewEncoder(t.writer)
	t.offset = info.Size()
	return nil
}

func (t *Translog) fileName(gen uint64) string {
	return filepath.Join(t.dir, fmt.Sprintf("%s-%d%s", t.uuid.String(), gen, fileExt))
}

// Add appends op and fsyncs before returning, so the returned Location
// is durable the instant this call returns successfully (spec §5 "Flush
// fence", invariant 4 "no lost writes").
func (t *Translog) Add(op Op) (Location, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	op.SeqNo = t.seq

	if err := t.encoder.Encode(op); err != nil {
		t.setTragic(err)
		return Location{}, fmt.Errorf("translog: encode: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		t.setTragic(err)
		return Location{}, fmt.Errorf("translog: flush: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		t.setTragic(err)
		return Location{}, fmt.Errorf("translog: fsync: %w", err)
	}

	info, err := t.file.Stat()
	if err != nil {
		t.setTragic(err)
		return Location{}, fmt.Errorf("translog: stat: %w", err)
	}
	loc := Location{Generation: t.fileGen, Offset: info.Size()}
	t.offset = loc.Offset
	return loc, nil
}

// CurrentFileGeneration returns the generation currently being appended
// to.
func (t *Translog) CurrentFileGeneration() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fileGen
}

// GenerationDescriptor returns {uuid, fileGen} for embedding in commit
// userData (spec §6).
func (t *Translog) GenerationDescriptor() Generation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Generation{UUID: t.uuid, FileGen: t.fileGen}
}

// PrepareCommit rolls the translog to a new file generation and marks
// the prior generation's file for deletion once Commit runs (spec
// §4.3 step 1). It must be called before the segment store's commit so
// that a subsequent recovery always replays from a generation the
// segment commit's userData can name.
func (t *Translog) PrepareCommit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writer.Flush(); err != nil {
		t.setTragicLocked(err)
		return fmt.Errorf("translog: flush before roll: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		t.setTragicLocked(err)
		return fmt.Errorf("translog: fsync before roll: %w", err)
	}
	priorGen := t.fileGen
	if err := t.file.Close(); err != nil {
		t.setTragicLocked(err)
		return fmt.Errorf("translog: close prior generation: %w", err)
	}

	t.fileGen++
	t.seq = 0
	if err := t.openCurrent(); err != nil {
		t.setTragicLocked(err)
		return err
	}
	t.pendingGens = append(t.pendingGens, priorGen)
	return nil
}

// Commit reclaims every generation rolled past since the last Commit.
// Per spec §4.3, this must run only after the segment store has
// committed and a refresh has happened; calling it earlier would delete
// translog files a concurrent crash-recovery still needs.
func (t *Translog) Commit() error {
	t.mu.Lock()
	pending := t.pendingGens
	t.pendingGens = nil
	t.mu.Unlock()

	var firstErr error
	for _, gen := range pending {
		if err := os.Remove(t.fileName(gen)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("translog: remove generation %d: %w", gen, err)
		}
	}
	return firstErr
}

// Close flushes and closes the current file. It does not delete any
// generation's file.
func (t *Translog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	if err := t.writer.Flush(); err != nil {
		log.Warn("translog: flush on close", "error", err)
	}
	err := t.file.Close()
	t.file = nil
	return err
}

func (t *Translog) setTragic(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setTragicLocked(err)
}

func (t *Translog) setTragicLocked(err error) {
	if t.tragic.Load() == nil {
		t.tragic.Store(err)
	}
}

// TragicException returns the first unrecoverable error this translog
// instance ever hit, or nil. Once set it is sticky (spec §4.7, §9
// "process-wide state").
func (t *Translog) TragicException() error {
	v := t.tragic.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}
