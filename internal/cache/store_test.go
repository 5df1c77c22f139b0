package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fp builds a plausible 64-char fingerprint from a short tag.
func fp(tag string) string {
	return tag + strings.Repeat("0", 64-len(tag))
}

func insertClip(t *testing.T, s *Store, fingerprint, text string) Entry {
	t.Helper()
	e, err := s.Insert([]byte("audio-"+text), Entry{
		Fingerprint: fingerprint,
		Text:        text,
		Voice:       "onyx",
		Format:      "mp3",
		Provider:    "openai",
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return e
}

// writeRawEntry plants a sidecar and audio file directly, bypassing the
// store, to simulate a directory left behind by an earlier process.
func writeRawEntry(t *testing.T, dir, id, fingerprint string, createdAt time.Time) {
	t.Helper()
	e := Entry{
		ID:          id,
		Fingerprint: fingerprint,
		Text:        "text " + id,
		Format:      "mp3",
		Provider:    "openai",
		CreatedAt:   createdAt,
		AudioFile:   id + ".mp3",
	}
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), raw, 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".mp3"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
}

func TestStore_OpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audios")

	s, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if s.Len() != 0 {
		t.Errorf("new store length: got %d, want 0", s.Len())
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("cache directory not created: %v", err)
	}
	if s.capacity != DefaultCapacity {
		t.Errorf("capacity: got %d, want %d", s.capacity, DefaultCapacity)
	}
}

func TestStore_InsertAndLookup(t *testing.T) {
	s, err := Open(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	e := insertClip(t, s, fp("aabbccdd"), "hello world")

	if e.ID != "aabbccdd" {
		t.Errorf("entry ID: got %q, want %q", e.ID, "aabbccdd")
	}
	if e.AudioFile != "aabbccdd.mp3" {
		t.Errorf("audio file name: got %q, want %q", e.AudioFile, "aabbccdd.mp3")
	}

	// Both files must be visible on disk under their final names.
	if _, err := os.Stat(e.Path()); err != nil {
		t.Errorf("audio file missing: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(s.Dir(), e.ID+".json"))
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	var onDisk Entry
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("sidecar does not parse: %v", err)
	}
	if onDisk.Text != "hello world" {
		t.Errorf("sidecar text: got %q, want %q", onDisk.Text, "hello world")
	}
	if onDisk.Fingerprint != fp("aabbccdd") {
		t.Errorf("sidecar fingerprint: got %q", onDisk.Fingerprint)
	}

	got, ok := s.Lookup(fp("aabbccdd"))
	if !ok {
		t.Fatal("Lookup missed a cached fingerprint")
	}
	if got.ID != e.ID {
		t.Errorf("Lookup ID: got %q, want %q", got.ID, e.ID)
	}

	if _, ok := s.Lookup(fp("ffff")); ok {
		t.Error("Lookup hit an unknown fingerprint")
	}
}

func TestStore_InsertSameFingerprintIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	first := insertClip(t, s, fp("aabbccdd"), "hello")
	second := insertClip(t, s, fp("aabbccdd"), "hello")

	if first.ID != second.ID {
		t.Errorf("IDs differ across duplicate inserts: %q vs %q", first.ID, second.ID)
	}
	if s.Len() != 1 {
		t.Errorf("store length after duplicate insert: got %d, want 1", s.Len())
	}
}

func TestStore_InsertReplacesClipFromOtherProvider(t *testing.T) {
	s, err := Open(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	first := insertClip(t, s, fp("aabbccdd"), "hello") // provider openai
	second, err := s.Insert([]byte("say-audio"), Entry{
		Fingerprint: fp("aabbccdd"),
		Text:        "hello",
		Voice:       "onyx",
		Format:      "mp3",
		Provider:    "say",
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if s.Len() != 1 {
		t.Errorf("store length after replacement: got %d, want 1", s.Len())
	}
	if second.ID != first.ID {
		t.Errorf("replacement changed the ID: %q vs %q", second.ID, first.ID)
	}

	got, ok := s.Lookup(fp("aabbccdd"))
	if !ok {
		t.Fatal("replaced entry not found by fingerprint")
	}
	if got.Provider != "say" {
		t.Errorf("provider after replacement: got %q, want say", got.Provider)
	}
	data, err := os.ReadFile(got.Path())
	if err != nil {
		t.Fatalf("reading replaced audio: %v", err)
	}
	if string(data) != "say-audio" {
		t.Errorf("audio after replacement: got %q", data)
	}
}

func TestStore_EvictsOldestBeyondCapacity(t *testing.T) {
	s, err := Open(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var entries []Entry
	for i := 0; i < 11; i++ {
		e := insertClip(t, s, fp(fmt.Sprintf("%08x", i+1)), fmt.Sprintf("clip %d", i))
		entries = append(entries, e)
	}

	if s.Len() != 10 {
		t.Fatalf("store length after 11 inserts: got %d, want 10", s.Len())
	}

	// The first insert is gone: index, audio file and sidecar.
	if _, ok := s.Lookup(entries[0].Fingerprint); ok {
		t.Error("evicted fingerprint still resolvable")
	}
	if _, err := os.Stat(entries[0].Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("evicted audio file still on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), entries[0].ID+".json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("evicted sidecar still on disk: %v", err)
	}

	// The second insert survived.
	if _, ok := s.Lookup(entries[1].Fingerprint); !ok {
		t.Error("second-oldest entry was evicted too early")
	}
}

func TestStore_EvictionToleratesMissingFiles(t *testing.T) {
	s, err := Open(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	first := insertClip(t, s, fp("aa"), "one")

	// Someone else already deleted the files out from under us.
	if err := os.Remove(first.Path()); err != nil {
		t.Fatalf("remove audio: %v", err)
	}
	if err := os.Remove(filepath.Join(s.Dir(), first.ID+".json")); err != nil {
		t.Fatalf("remove sidecar: %v", err)
	}

	second := insertClip(t, s, fp("bb"), "two")

	if s.Len() != 1 {
		t.Errorf("store length: got %d, want 1", s.Len())
	}
	if _, ok := s.Lookup(second.Fingerprint); !ok {
		t.Error("insert after tolerant eviction lost the new entry")
	}
}

func TestStore_OpenRebuildsOrderFromDirectory(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// Written out of order on purpose; equal timestamps fall back to ID.
	writeRawEntry(t, dir, "cc000003", fp("cc"), base.Add(2*time.Minute))
	writeRawEntry(t, dir, "aa000001", fp("aa"), base)
	writeRawEntry(t, dir, "bb000002", fp("bb"), base.Add(time.Minute))
	writeRawEntry(t, dir, "dd000004", fp("dd"), base.Add(2*time.Minute))

	s, err := Open(dir, 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	list := s.List()
	gotIDs := make([]string, len(list))
	for i, e := range list {
		gotIDs[i] = e.ID
	}
	wantIDs := []string{"dd000004", "cc000003", "bb000002", "aa000001"}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("List order: got %v, want %v", gotIDs, wantIDs)
		}
	}

	recent, ok := s.MostRecent()
	if !ok {
		t.Fatal("MostRecent on populated store returned nothing")
	}
	if recent.ID != "dd000004" {
		t.Errorf("MostRecent: got %q, want %q", recent.ID, "dd000004")
	}
}

func TestStore_OpenEnforcesCapacity(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("%08x", i+1)
		writeRawEntry(t, dir, id, fp(id), base.Add(time.Duration(i)*time.Second))
	}

	s, err := Open(dir, 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if s.Len() != 10 {
		t.Fatalf("store length after capacity enforcement: got %d, want 10", s.Len())
	}
	// The two oldest were evicted from disk as well.
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("%08x", i+1)
		if _, err := os.Stat(filepath.Join(dir, id+".mp3")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("audio for %s survived capacity enforcement", id)
		}
	}
}

func TestStore_ScanSkipsTempAndBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	writeRawEntry(t, dir, "aa000001", fp("aa"), base)

	// In-flight temp file, corrupt sidecar, and a sidecar whose audio
	// is missing. None of them may surface as entries.
	if err := os.WriteFile(filepath.Join(dir, tmpPrefix+"abc.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	orphan := Entry{ID: "ee000005", Fingerprint: fp("ee"), Format: "mp3", AudioFile: "ee000005.mp3", CreatedAt: base}
	raw, _ := json.Marshal(orphan)
	if err := os.WriteFile(filepath.Join(dir, "ee000005.json"), raw, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir, 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if s.Len() != 1 {
		t.Errorf("store length: got %d, want 1", s.Len())
	}
	// The orphaned sidecar was cleaned up.
	if _, err := os.Stat(filepath.Join(dir, "ee000005.json")); !errors.Is(err, os.ErrNotExist) {
		t.Error("orphaned sidecar not removed during scan")
	}
}

func TestStore_Resolve(t *testing.T) {
	s, err := Open(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Two fingerprints sharing their first 8 hex chars force the second
	// insert to take a lengthened ID.
	shared := "aabbccdd"
	insertClip(t, s, shared+"1111"+strings.Repeat("0", 52), "first")
	insertClip(t, s, shared+"2222"+strings.Repeat("0", 52), "second")
	insertClip(t, s, fp("ee"), "third")

	tests := []struct {
		name    string
		partial string
		wantID  string
		wantErr error
	}{
		{
			name:    "exact short ID wins over prefix of longer ID",
			partial: "aabbccdd",
			wantID:  "aabbccdd",
		},
		{
			name:    "unique prefix resolves",
			partial: "ee",
			wantID:  "ee000000",
		},
		{
			name:    "prefix reaching into the lengthened ID",
			partial: "aabbccdd2",
			wantID:  "aabbccdd2222",
		},
		{
			name:    "ambiguous prefix",
			partial: "aabb",
			wantErr: ErrAmbiguous,
		},
		{
			name:    "unknown identifier",
			partial: "123456",
			wantErr: ErrNotFound,
		},
		{
			name:    "empty identifier",
			partial: "  ",
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := s.Resolve(tt.partial)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve error: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if e.ID != tt.wantID {
				t.Errorf("Resolve ID: got %q, want %q", e.ID, tt.wantID)
			}
		})
	}
}

func TestStore_AssignIDLengthensOnCollision(t *testing.T) {
	s, err := Open(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	shared := "aabbccdd"
	first := insertClip(t, s, shared+"1111"+strings.Repeat("0", 52), "first")
	second := insertClip(t, s, shared+"2222"+strings.Repeat("0", 52), "second")

	if first.ID != "aabbccdd" {
		t.Errorf("first ID: got %q, want %q", first.ID, "aabbccdd")
	}
	if second.ID != "aabbccdd2222" {
		t.Errorf("second ID: got %q, want %q", second.ID, "aabbccdd2222")
	}
}

func TestStore_Remove(t *testing.T) {
	s, err := Open(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	e := insertClip(t, s, fp("aa"), "bye")

	if err := s.Remove(e.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(e.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Error("audio file survived Remove")
	}
	if _, err := s.Resolve(e.ID); !errors.Is(err, ErrNotFound) {
		t.Error("removed entry still resolvable")
	}

	if err := s.Remove("deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove unknown ID: got %v, want ErrNotFound", err)
	}
}
