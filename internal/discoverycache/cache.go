// Package discoverycache implements the Discovery Cache (spec §4.3, §6.2):
// a per-file cache of parsed TestItems/Fixtures, keyed by absolute path and
// validated by (mtime, content-prefix fingerprint), persisted atomically
// between runs in the binary format spec §6.2 defines. Content
// fingerprinting uses xxhash (github.com/cespare/xxhash/v2), mirroring
// lci's internal/core.FileContentStore use of the same library for its own
// content store.
package discoverycache

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/gofast-runner/internal/debug"
	"github.com/standardbeagle/gofast-runner/internal/parser"
	"github.com/standardbeagle/gofast-runner/internal/types"
)

// magic + schema version identify the on-disk format (spec §6.2). A
// mismatch or truncated file means the cache is ignored and rebuilt.
var magic = [8]byte{'g', 'f', 'r', 'u', 'n', 'n', 'e', 'r'}

const schemaVersion uint16 = 1

// fingerprintPrefixSize is how much of a file's content is hashed on
// lookup (spec §4.3: "the file's first 4 KiB content hash"). Store hashes
// the same prefix; no hash of the full file content is computed or kept.
const fingerprintPrefixSize = 4096

// Entry is one file's cached parse result.
type Entry struct {
	Path       string
	ModTime    int64 // unix seconds
	Fingerprint uint64
	Payload    Payload
}

// Payload is the serialized vector of TestItems and Fixtures parsed from
// one file (spec §3 DiscoveryCacheEntry), encoded with encoding/gob: no
// third-party binary serialization library appears as a direct dependency
// anywhere in the retrieval pack (see DESIGN.md), so the stdlib's
// self-describing gob codec fills the payload's "self-describing
// serialized" requirement from spec §6.2.
type Payload struct {
	Items    []types.TestItem
	Fixtures []types.Fixture
	Hooks    map[string]types.LifecycleHooks
}

// Cache is the process-wide discovery cache: read-only during discovery,
// written once at end of run (spec §5).
type Cache struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
	dirty   bool
}

// Load reads path into a Cache. A missing, truncated, or magic/version
// mismatched file produces an empty, rebuildable cache rather than an
// error (spec §4.3 "Corruption is non-fatal").
func Load(path string) *Cache {
	c := &Cache{path: path, entries: make(map[string]Entry)}
	f, err := os.Open(path)
	if err != nil {
		return c
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var gotMagic [8]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil || gotMagic != magic {
		debug.LogDiscovery("cache %s: magic mismatch or unreadable, rebuilding", path)
		return c
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil || version != schemaVersion {
		debug.LogDiscovery("cache %s: schema version mismatch, rebuilding", path)
		return &Cache{path: path, entries: make(map[string]Entry)}
	}

	for {
		entry, err := readEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			debug.LogDiscovery("cache %s: truncated entry, rebuilding: %v", path, err)
			return &Cache{path: path, entries: make(map[string]Entry)}
		}
		c.entries[entry.Path] = entry
	}
	debug.LogDiscovery("cache %s: loaded %d entries", path, len(c.entries))
	return c
}

func readEntry(r io.Reader) (Entry, error) {
	var pathLen uint32
	if err := binary.Read(r, binary.LittleEndian, &pathLen); err != nil {
		return Entry{}, err
	}
	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return Entry{}, io.ErrUnexpectedEOF
	}
	var mtime int64
	if err := binary.Read(r, binary.LittleEndian, &mtime); err != nil {
		return Entry{}, io.ErrUnexpectedEOF
	}
	var fp uint64
	if err := binary.Read(r, binary.LittleEndian, &fp); err != nil {
		return Entry{}, io.ErrUnexpectedEOF
	}
	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return Entry{}, io.ErrUnexpectedEOF
	}
	payloadBytes := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payloadBytes); err != nil {
		return Entry{}, io.ErrUnexpectedEOF
	}

	var payload Payload
	dec := gob.NewDecoder(newByteReader(payloadBytes))
	if err := dec.Decode(&payload); err != nil {
		return Entry{}, fmt.Errorf("decode payload for %s: %w", string(pathBytes), err)
	}

	return Entry{Path: string(pathBytes), ModTime: mtime, Fingerprint: fp, Payload: payload}, nil
}

// Lookup returns the cached entry for path if it is still valid: the
// current mtime matches the stored mtime AND the current first-4KiB hash
// matches the stored fingerprint (spec §4.3 "Validation").
func (c *Cache) Lookup(path string, info os.FileInfo) (Payload, bool) {
	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return Payload{}, false
	}
	if entry.ModTime != info.ModTime().Unix() {
		return Payload{}, false
	}
	fp, err := prefixFingerprint(path)
	if err != nil || fp != entry.Fingerprint {
		return Payload{}, false
	}
	return entry.Payload, true
}

// Store records a freshly parsed file's result, keyed by path and the
// current mtime/fingerprint.
func (c *Cache) Store(path string, info os.FileInfo, result *parser.FileResult) {
	fp, err := prefixFingerprint(path)
	if err != nil {
		return
	}
	payload := Payload{Items: result.Items, Fixtures: result.Fixtures, Hooks: result.Hooks}
	c.mu.Lock()
	c.entries[path] = Entry{Path: path, ModTime: info.ModTime().Unix(), Fingerprint: fp, Payload: payload}
	c.dirty = true
	c.mu.Unlock()
}

// GC drops entries for files no longer present in any scanned root (spec
// §4.3 "Invalidation").
func (c *Cache) GC(liveFiles map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.entries {
		if _, ok := liveFiles[path]; !ok {
			delete(c.entries, path)
			c.dirty = true
		}
	}
}

// Flush writes the cache to disk atomically (temp file + rename), spec
// §4.3 "Persistence". A no-op when nothing changed since Load.
func (c *Cache) Flush() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.dirty {
		return nil
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".discoverycache-*.tmp")
	if err != nil {
		return fmt.Errorf("discoverycache: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	if _, err := w.Write(magic[:]); err != nil {
		tmp.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, schemaVersion); err != nil {
		tmp.Close()
		return err
	}
	for _, entry := range c.entries {
		if err := writeEntry(w, entry); err != nil {
			tmp.Close()
			return fmt.Errorf("discoverycache: write entry for %s: %w", entry.Path, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// A failure here (cache I/O failure that prevents writing) is one of
	// the few fatal engine invariant violations per spec §7.
	return os.Rename(tmpPath, c.path)
}

func writeEntry(w io.Writer, entry Entry) error {
	var payloadBuf byteBuffer
	enc := gob.NewEncoder(&payloadBuf)
	if err := enc.Encode(entry.Payload); err != nil {
		return err
	}

	pathBytes := []byte(entry.Path)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(pathBytes))); err != nil {
		return err
	}
	if _, err := w.Write(pathBytes); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry.ModTime); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry.Fingerprint); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(payloadBuf.data))); err != nil {
		return err
	}
	_, err := w.Write(payloadBuf.data)
	return err
}

func prefixFingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, fingerprintPrefixSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, err
	}
	return xxhash.Sum64(buf[:n]), nil
}

// byteBuffer is a minimal io.Writer/io.Reader sink, avoiding a dependency
// on bytes.Buffer's growth semantics being pulled into the hot path twice.
type byteBuffer struct{ data []byte }

func (b *byteBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func newByteReader(data []byte) io.Reader {
	return &byteReader{data: data}
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
