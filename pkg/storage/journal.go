package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/refstore/pkg/pool"
)

// Journal errors
var (
	ErrJournalClosed    = errors.New("journal: closed")
	ErrJournalCorrupted = errors.New("journal: corrupted entry")
	ErrJournalGap       = errors.New("journal: sequence compacted away")
)

// Key prefixes of the journal keyspace
const (
	prefixJournalBase  = byte(0x01) // base -> journalBase
	prefixJournalEntry = byte(0x02) // entry:seq -> JournalEntry
)

// journalOrder is the byte order of states stored in the journal, so that
// entries read the same on every platform.
var journalOrder = binary.LittleEndian

// JournalEntry is one recorded update. Put and Pop hold the encoded put and
// pop states; NextRef and RootRef are the absolute counters after the update.
type JournalEntry struct {
	Sequence  uint64    `msgpack:"seq"`
	Timestamp time.Time `msgpack:"ts"`
	NextRef   Ref       `msgpack:"next"`
	RootRef   Ref       `msgpack:"root"`
	Put       []byte    `msgpack:"put"`
	Pop       []byte    `msgpack:"pop"`
	Checksum  []byte    `msgpack:"sum"`
}

// journalBase is the state all remaining entries apply to.
type journalBase struct {
	Sequence uint64 `msgpack:"seq"`
	State    []byte `msgpack:"state"`
	Checksum []byte `msgpack:"sum"`
}

// JournalOptions configures a Journal.
type JournalOptions struct {
	// MaxEntries compacts the journal after Record whenever it holds more
	// entries. 0 keeps every entry.
	MaxEntries int

	// Logger receives journal events and the messages of the key-value
	// engine. Defaults to a logger that discards everything.
	Logger logrus.FieldLogger

	// Clock stamps the entries. Defaults to the real clock.
	Clock clockwork.Clock
}

// Journal keeps the history of committed updates in memory.
//
// Entries are numbered from 1 and stored in an in-memory key-value engine;
// nothing is written to disk. Compaction folds the oldest entries into a
// base state, after which those sequences can no longer be replayed.
//
// Example:
//
//	journal, err := storage.OpenJournal(storage.JournalOptions{MaxEntries: 1000})
//	if err != nil {
//		return err
//	}
//	defer journal.Close()
//
//	store.Put(1, 2, 3)
//	seq, err := journal.Record(store.Commit())
//
//	// bring a follower up to date
//	last, err := journal.Replay(follower, followerSeq)
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
type Journal struct {
	mu         sync.Mutex
	db         *badger.DB
	id         uuid.UUID
	clock      clockwork.Clock
	logger     logrus.FieldLogger
	maxEntries int

	sequence uint64 // last recorded
	baseSeq  uint64 // last folded into the base
	count    int
	closed   bool
}

// OpenJournal creates an empty in-memory journal.
func OpenJournal(opts JournalOptions) (*Journal, error) {
	if opts.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		opts.Logger = logger
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MaxEntries < 0 {
		return nil, fmt.Errorf("journal: negative max entries %d", opts.MaxEntries)
	}

	id := uuid.New()
	logger := opts.Logger.WithField("journal", id.String())

	badgerOpts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{logger}).
		WithMemTableSize(4 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1 << 10).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal engine: %w", err)
	}

	j := &Journal{
		db:         db,
		id:         id,
		clock:      opts.Clock,
		logger:     logger,
		maxEntries: opts.MaxEntries,
	}
	if err := j.writeBase(NewState(), 0, nil); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// ID identifies the journal in log output.
func (j *Journal) ID() string {
	return j.id.String()
}

// Sequence returns the sequence of the last recorded entry, 0 if none.
func (j *Journal) Sequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sequence
}

// BaseSequence returns the last sequence folded into the base state.
func (j *Journal) BaseSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.baseSeq
}

// Len returns the number of entries that were not compacted yet.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Record appends u and returns its sequence. Updates that change neither
// edges nor counters are skipped and yield sequence 0.
func (j *Journal) Record(u *Update) (uint64, error) {
	if u.Empty() {
		return 0, nil
	}
	entry := JournalEntry{
		NextRef: u.NewState().NextRef(),
		RootRef: u.NewState().RootRef(),
		Put:     u.PutState().ToBytesOrder(journalOrder),
		Pop:     u.PopState().ToBytesOrder(journalOrder),
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrJournalClosed
	}

	entry.Sequence = j.sequence + 1
	entry.Timestamp = j.clock.Now().UTC()
	entry.Checksum = entry.checksum()
	data, err := msgpack.Marshal(&entry)
	if err != nil {
		return 0, fmt.Errorf("journal: encode entry %d: %w", entry.Sequence, err)
	}
	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.Sequence), data)
	}); err != nil {
		return 0, fmt.Errorf("journal: store entry %d: %w", entry.Sequence, err)
	}
	j.sequence = entry.Sequence
	j.count++

	j.logger.WithFields(logrus.Fields{
		"seq":  entry.Sequence,
		"puts": u.PutState().Len(),
		"pops": u.PopState().Len(),
	}).Debug("update recorded")

	if j.maxEntries > 0 && j.count > j.maxEntries {
		if err := j.compactLocked(j.maxEntries); err != nil {
			return entry.Sequence, err
		}
	}
	return entry.Sequence, nil
}

// Entries returns the entries recorded after the given sequence in order.
// Asking for entries that were compacted away returns ErrJournalGap.
func (j *Journal) Entries(after uint64) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrJournalClosed
	}
	if after < j.baseSeq {
		return nil, fmt.Errorf("%w: entries after %d requested, base is %d", ErrJournalGap, after, j.baseSeq)
	}
	return j.entriesLocked(after, j.sequence)
}

func (j *Journal) entriesLocked(after, upto uint64) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{prefixJournalEntry}
		for it.Seek(entryKey(after + 1)); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var entry JournalEntry
			if err := msgpack.Unmarshal(val, &entry); err != nil {
				return fmt.Errorf("%w: %v", ErrJournalCorrupted, err)
			}
			if entry.Sequence > upto {
				break
			}
			if !bytes.Equal(entry.Checksum, entry.checksum()) {
				return fmt.Errorf("%w: checksum mismatch at %d", ErrJournalCorrupted, entry.Sequence)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// Replay applies the entries recorded after the given sequence to store and
// returns the last applied sequence.
func (j *Journal) Replay(store *Store, after uint64) (uint64, error) {
	entries, err := j.Entries(after)
	if err != nil {
		return after, err
	}
	last := after
	for _, entry := range entries {
		if err := entry.Apply(store); err != nil {
			return last, err
		}
		last = entry.Sequence
	}
	return last, nil
}

// StateAt reconstructs the state right after the entry with the given
// sequence. Sequence 0 is the empty state.
func (j *Journal) StateAt(seq uint64) (*State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrJournalClosed
	}
	if seq < j.baseSeq {
		return nil, fmt.Errorf("%w: state %d requested, base is %d", ErrJournalGap, seq, j.baseSeq)
	}
	if seq > j.sequence {
		return nil, fmt.Errorf("journal: sequence %d not recorded, last is %d", seq, j.sequence)
	}

	base, err := j.readBase()
	if err != nil {
		return nil, err
	}
	entries, err := j.entriesLocked(j.baseSeq, seq)
	if err != nil {
		return nil, err
	}
	store := NewStoreFrom(base)
	for _, entry := range entries {
		if err := entry.Apply(store); err != nil {
			return nil, err
		}
	}
	return store.Commit().NewState(), nil
}

// Compact folds the oldest entries into the base state so that at most keep
// entries remain.
func (j *Journal) Compact(keep int) error {
	if keep < 0 {
		return fmt.Errorf("journal: negative keep %d", keep)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return j.compactLocked(keep)
}

func (j *Journal) compactLocked(keep int) error {
	fold := j.count - keep
	if fold <= 0 {
		return nil
	}
	base, err := j.readBase()
	if err != nil {
		return err
	}
	upto := j.baseSeq + uint64(fold)
	entries, err := j.entriesLocked(j.baseSeq, upto)
	if err != nil {
		return err
	}

	store := NewStoreFrom(base)
	keys := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		if err := entry.Apply(store); err != nil {
			return fmt.Errorf("journal: fold entry %d: %w", entry.Sequence, err)
		}
		keys = append(keys, entryKey(entry.Sequence))
	}
	if err := j.writeBase(store.Commit().NewState(), upto, keys); err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"folded": len(entries),
		"base":   upto,
	}).Debug("journal compacted")
	j.baseSeq = upto
	j.count -= len(entries)
	return nil
}

// writeBase stores state as the new base and deletes the folded entries.
func (j *Journal) writeBase(state *State, seq uint64, folded [][]byte) error {
	base := journalBase{Sequence: seq, State: state.ToBytesOrder(journalOrder)}
	base.Checksum = checksum(seq, base.State)
	data, err := msgpack.Marshal(&base)
	if err != nil {
		return fmt.Errorf("journal: encode base: %w", err)
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range folded {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("journal: delete folded entry: %w", err)
		}
	}
	if err := wb.Set([]byte{prefixJournalBase}, data); err != nil {
		return fmt.Errorf("journal: store base: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("journal: store base: %w", err)
	}
	return nil
}

func (j *Journal) readBase() (*State, error) {
	var base journalBase
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte{prefixJournalBase})
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return msgpack.Unmarshal(val, &base)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: base: %v", ErrJournalCorrupted, err)
	}
	if !bytes.Equal(base.Checksum, checksum(base.Sequence, base.State)) {
		return nil, fmt.Errorf("%w: base checksum mismatch", ErrJournalCorrupted)
	}
	state, err := FromBytesOrder(base.State, journalOrder)
	if err != nil {
		return nil, fmt.Errorf("%w: base: %v", ErrJournalCorrupted, err)
	}
	return state, nil
}

// Close releases the journal. Further calls return ErrJournalClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

// PutState decodes the edges added by the entry.
func (e *JournalEntry) PutState() (*State, error) {
	return FromBytesOrder(e.Put, journalOrder)
}

// PopState decodes the edges removed by the entry.
func (e *JournalEntry) PopState() (*State, error) {
	return FromBytesOrder(e.Pop, journalOrder)
}

// Apply replays the entry on store.
func (e *JournalEntry) Apply(store *Store) error {
	puts, err := e.PutState()
	if err != nil {
		return fmt.Errorf("%w: entry %d: %v", ErrJournalCorrupted, e.Sequence, err)
	}
	pops, err := e.PopState()
	if err != nil {
		return fmt.Errorf("%w: entry %d: %v", ErrJournalCorrupted, e.Sequence, err)
	}
	return applyChanges(store, puts, pops, e.NextRef, e.RootRef)
}

func (e *JournalEntry) checksum() []byte {
	return checksum(e.Sequence, e.Put, e.Pop,
		binary.BigEndian.AppendUint32(nil, uint32(e.NextRef)),
		binary.BigEndian.AppendUint32(nil, uint32(e.RootRef)))
}

// checksum hashes seq and the length-prefixed parts with BLAKE2b-256.
func checksum(seq uint64, parts ...[]byte) []byte {
	buf := pool.GetByteBuffer()
	defer func() { pool.PutByteBuffer(buf) }()

	buf = binary.BigEndian.AppendUint64(buf, seq)
	for _, part := range parts {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(part)))
		buf = append(buf, part...)
	}
	sum := blake2b.Sum256(buf)
	return sum[:]
}

// entryKey creates the key of an entry. Big-endian sequences keep the keys
// in replay order.
func entryKey(seq uint64) []byte {
	key := make([]byte, 0, 9)
	key = append(key, prefixJournalEntry)
	return binary.BigEndian.AppendUint64(key, seq)
}

// badgerLogger forwards engine messages, demoting info to debug.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.logger.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.logger.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.logger.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.logger.Debugf(format, args...) }
