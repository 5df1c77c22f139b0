package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Resolution errors. The CLI tells these apart: an unknown identifier is
// a user typo, an ambiguous one needs more characters.
var (
	// ErrNotFound is returned when no cached clip matches an identifier
	ErrNotFound = errors.New("no cached audio matches")

	// ErrAmbiguous is returned when an identifier prefix matches more than one clip
	ErrAmbiguous = errors.New("identifier matches multiple cached clips")
)

// DefaultCapacity is how many clips the store keeps before evicting the
// oldest. Ten covers a session of replays without growing unbounded.
const DefaultCapacity = 10

// tmpPrefix marks in-flight writes. Scans skip these names; a crash can
// strand one but never a half-visible entry.
const tmpPrefix = ".tmp-"

// idLength is how many fingerprint hex characters seed an entry ID.
const idLength = 8

// Entry describes one cached clip. The JSON form is the on-disk sidecar;
// the directory of sidecars plus audio files is the entire store state.
type Entry struct {
	ID           string    `json:"id"`
	Fingerprint  string    `json:"fingerprint"`
	Text         string    `json:"text"`
	Voice        string    `json:"voice,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	Format       string    `json:"format"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"created_at"`
	AudioFile    string    `json:"audio_file"`

	path string
}

// Path returns the absolute path of the entry's audio file.
func (e Entry) Path() string { return e.path }

// Store is a fingerprint-addressed FIFO of synthesized clips backed by a
// single directory. Every mutation lands on disk via write-to-temp plus
// rename, so concurrent readers of the directory never observe a partial
// entry. The in-memory index is rebuilt from the directory on Open.
type Store struct {
	mu       sync.Mutex
	dir      string
	capacity int
	entries  []*Entry // insertion order, oldest first
}

// Open creates the cache directory if needed and rebuilds the index from
// whatever entries the directory already holds, oldest first. If the
// directory holds more than capacity entries, the oldest are evicted
// immediately. capacity <= 0 selects DefaultCapacity.
func Open(dir string, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create cache directory: %w", err)
	}

	s := &Store{dir: dir, capacity: capacity}
	if err := s.scan(); err != nil {
		return nil, err
	}
	for len(s.entries) > s.capacity {
		s.evictOldest()
	}
	return s, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Len returns the number of cached clips.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// scan rebuilds the index from sidecar files. Sidecars whose audio file
// is gone are removed; unreadable sidecars are skipped with a warning.
// Order is by creation time, then ID, which makes replay ordering stable
// even when two entries share a timestamp.
func (s *Store) scan() error {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("unable to read cache directory: %w", err)
	}

	var entries []*Entry
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, tmpPrefix) || filepath.Ext(name) != ".json" {
			continue
		}

		sidecar := filepath.Join(s.dir, name)
		raw, err := os.ReadFile(sidecar)
		if err != nil {
			log.Warn("skipping unreadable cache sidecar", "file", name, "err", err)
			continue
		}

		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			log.Warn("skipping corrupt cache sidecar", "file", name, "err", err)
			continue
		}
		if e.ID == "" || e.AudioFile == "" {
			log.Warn("skipping incomplete cache sidecar", "file", name)
			continue
		}

		e.path = filepath.Join(s.dir, filepath.Base(e.AudioFile))
		info, err := os.Stat(e.path)
		if err != nil {
			// Sidecar without audio: the pair is useless, drop it.
			log.Warn("removing orphaned cache sidecar", "id", e.ID)
			_ = os.Remove(sidecar)
			continue
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = info.ModTime()
		}

		entries = append(entries, &e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})

	s.entries = entries
	return nil
}

// Lookup finds a cached clip by its full fingerprint digest.
func (s *Store) Lookup(fingerprint string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Fingerprint == fingerprint {
			return *e, true
		}
	}
	return Entry{}, false
}

// Insert stores a clip and its metadata, assigns the entry ID from the
// fingerprint, and evicts the oldest entries once the store exceeds
// capacity. The caller fills Fingerprint, Text, Voice, Instructions,
// Format and Provider; Insert owns ID, CreatedAt, AudioFile and Path.
//
// Inserting a fingerprint that is already cached from the same provider
// returns the existing entry untouched. The same fingerprint from a
// different provider replaces the old clip, so an entry always names the
// backend that produced its audio.
func (s *Store) Insert(audio []byte, meta Entry) (Entry, error) {
	if meta.Fingerprint == "" {
		return Entry{}, errors.New("entry has no fingerprint")
	}
	if meta.Format == "" {
		return Entry{}, errors.New("entry has no audio format")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.Fingerprint != meta.Fingerprint {
			continue
		}
		if e.Provider == meta.Provider {
			return *e, nil
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		if err := s.removeFiles(e); err != nil {
			log.Warn("unable to remove replaced cached audio", "id", e.ID, "err", err)
		}
		break
	}

	meta.ID = s.assignID(meta.Fingerprint)
	meta.CreatedAt = time.Now()
	meta.AudioFile = meta.ID + "." + meta.Format
	meta.path = filepath.Join(s.dir, meta.AudioFile)

	if err := s.writeFile(meta.path, audio); err != nil {
		return Entry{}, fmt.Errorf("unable to write cached audio: %w", err)
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(meta.path)
		return Entry{}, fmt.Errorf("unable to encode cache sidecar: %w", err)
	}
	if err := s.writeFile(s.sidecarPath(meta.ID), raw); err != nil {
		_ = os.Remove(meta.path)
		return Entry{}, fmt.Errorf("unable to write cache sidecar: %w", err)
	}

	e := meta
	s.entries = append(s.entries, &e)
	for len(s.entries) > s.capacity {
		s.evictOldest()
	}

	log.Debug("cached audio", "id", e.ID, "bytes", len(audio), "format", e.Format)
	return e, nil
}

// assignID derives the entry ID from the leading fingerprint hex. When a
// truncated prefix collides with an entry holding a different fingerprint,
// the ID is lengthened until the clash disappears. Equal inputs therefore
// always map to equal IDs, and distinct clips never share one.
func (s *Store) assignID(fingerprint string) string {
	const step = 4
	for n := idLength; ; n += step {
		if n > len(fingerprint) {
			return fingerprint
		}
		id := fingerprint[:n]
		if !s.idTaken(id, fingerprint) {
			return id
		}
	}
}

func (s *Store) idTaken(id, fingerprint string) bool {
	for _, e := range s.entries {
		if e.ID == id && e.Fingerprint != fingerprint {
			return true
		}
	}
	return false
}

// MostRecent returns the newest cached clip.
func (s *Store) MostRecent() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return *s.entries[len(s.entries)-1], true
}

// List returns all cached clips, newest first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, *s.entries[i])
	}
	return out
}

// Resolve finds the clip whose ID matches the given prefix. An exact ID
// match wins outright, which matters because one entry's full ID can be a
// prefix of another's lengthened one.
func (s *Store) Resolve(partial string) (Entry, error) {
	partial = strings.ToLower(strings.TrimSpace(partial))
	if partial == "" {
		return Entry{}, fmt.Errorf("%w: empty identifier", ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*Entry
	for _, e := range s.entries {
		if e.ID == partial {
			return *e, nil
		}
		if strings.HasPrefix(e.ID, partial) {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 0:
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, partial)
	case 1:
		return *matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, e := range matches {
			ids[i] = e.ID
		}
		return Entry{}, fmt.Errorf("%w: %q matches %s", ErrAmbiguous, partial, strings.Join(ids, ", "))
	}
}

// Remove deletes a clip and its sidecar by exact ID. Used to prune
// entries whose audio file has gone missing behind our back.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.ID != id {
			continue
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		if err := s.removeFiles(e); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNotFound, id)
}

// evictOldest drops the head of the insertion order. Deletion tolerates
// files another process already removed. Callers hold s.mu.
func (s *Store) evictOldest() {
	e := s.entries[0]
	s.entries = s.entries[1:]
	if err := s.removeFiles(e); err != nil {
		log.Warn("unable to evict cached audio", "id", e.ID, "err", err)
		return
	}
	log.Debug("evicted cached audio", "id", e.ID)
}

func (s *Store) removeFiles(e *Entry) error {
	if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(s.sidecarPath(e.ID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// writeFile writes data under a temp name in the cache directory and
// renames it into place. Rename is atomic on the same filesystem, so a
// concurrent scan sees either no file or the whole file. The temp name
// carries a UUID so two processes inserting at once cannot trample each
// other's in-flight write.
func (s *Store) writeFile(path string, data []byte) error {
	tempPath := filepath.Join(s.dir, tmpPrefix+uuid.NewString())

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}
