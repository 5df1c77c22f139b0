package tts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgnsrekt/osay/internal/audio"
	"github.com/dgnsrekt/osay/internal/cache"
)

// fakeEngine counts invocations and serves canned audio.
type fakeEngine struct {
	name       string
	clip       Clip
	err        error
	streamData string
	streamErr  error

	synthCalls  int
	streamCalls int
	lastReq     Request
}

func (f *fakeEngine) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeEngine) Synthesize(_ context.Context, req Request) (Clip, error) {
	f.synthCalls++
	f.lastReq = req
	if f.err != nil {
		return Clip{}, f.err
	}
	return f.clip, nil
}

func (f *fakeEngine) Voices(context.Context) ([]string, error) {
	return []string{"nova", "onyx"}, nil
}

func (f *fakeEngine) SynthesizeStream(_ context.Context, req Request) (io.ReadCloser, error) {
	f.streamCalls++
	f.lastReq = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return io.NopCloser(strings.NewReader(f.streamData)), nil
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	return s
}

func TestController_SpeakSynthesizesAndCaches(t *testing.T) {
	engine := &fakeEngine{name: "openai", clip: Clip{Data: []byte("mp3-bytes"), Format: FormatMP3}}
	store := newTestStore(t)
	player := &audio.MockPlayer{}
	c := NewController(engine, store, player)

	req := Request{Text: "Hello", Voice: "nova", Format: FormatMP3}
	if err := c.Speak(context.Background(), req); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if engine.synthCalls != 1 {
		t.Errorf("engine calls: got %d, want 1", engine.synthCalls)
	}
	if store.Len() != 1 {
		t.Errorf("cache entries: got %d, want 1", store.Len())
	}

	recent, ok := store.MostRecent()
	if !ok {
		t.Fatal("MostRecent returned nothing after Speak")
	}
	if recent.Text != "Hello" || recent.Provider != "openai" || recent.Format != "mp3" {
		t.Errorf("cached metadata: %+v", recent)
	}
	if recent.Fingerprint != ComputeFingerprint(req).Hex() {
		t.Error("cached fingerprint does not match the request")
	}

	calls := player.BytesCalls()
	if len(calls) != 1 {
		t.Fatalf("PlayBytes calls: got %d, want 1", len(calls))
	}
	if string(calls[0].Data) != "mp3-bytes" || calls[0].Format != "mp3" {
		t.Errorf("played clip: %+v", calls[0])
	}
}

func TestController_SpeakHitsCacheOnRepeat(t *testing.T) {
	engine := &fakeEngine{clip: Clip{Data: []byte("audio"), Format: FormatMP3}}
	store := newTestStore(t)
	player := &audio.MockPlayer{}
	c := NewController(engine, store, player)

	req := Request{Text: "Hello", Voice: "nova", Format: FormatMP3}
	if err := c.Speak(context.Background(), req); err != nil {
		t.Fatalf("first Speak failed: %v", err)
	}
	if err := c.Speak(context.Background(), req); err != nil {
		t.Fatalf("second Speak failed: %v", err)
	}

	if engine.synthCalls != 1 {
		t.Errorf("engine calls after repeat: got %d, want 1 (cache must serve the repeat)", engine.synthCalls)
	}
	if store.Len() != 1 {
		t.Errorf("cache entries: got %d, want 1", store.Len())
	}

	// The repeat played from the cached file.
	files := player.FileCalls()
	if len(files) != 1 {
		t.Fatalf("PlayFile calls: got %d, want 1", len(files))
	}
	cached, err := os.ReadFile(files[0].Path)
	if err != nil {
		t.Fatalf("cached file unreadable: %v", err)
	}
	if string(cached) != "audio" {
		t.Errorf("cached bytes: got %q", cached)
	}
}

func TestController_SpeakNeverReplaysAnotherBackendsClip(t *testing.T) {
	store := newTestStore(t)
	req := Request{Text: "hi", Voice: "nova", Format: FormatWAV}

	remote := &fakeEngine{name: "openai", clip: Clip{Data: []byte("openai-wav"), Format: FormatWAV}}
	if err := NewController(remote, store, &audio.MockPlayer{}).Speak(context.Background(), req); err != nil {
		t.Fatalf("remote Speak failed: %v", err)
	}

	// The same request through the local backend must be synthesized
	// fresh: the fingerprints match, but the cached clip belongs to the
	// other synthesizer.
	local := &fakeEngine{name: "say", clip: Clip{Data: []byte("say-wav"), Format: FormatWAV}}
	player := &audio.MockPlayer{}
	if err := NewController(local, store, player).Speak(context.Background(), req); err != nil {
		t.Fatalf("local Speak failed: %v", err)
	}

	if local.synthCalls != 1 {
		t.Errorf("local engine calls: got %d, want 1 (the remote clip must not serve it)", local.synthCalls)
	}
	if files := player.FileCalls(); len(files) != 0 {
		t.Errorf("cached file replayed across backends: %+v", files)
	}
	calls := player.BytesCalls()
	if len(calls) != 1 || string(calls[0].Data) != "say-wav" {
		t.Fatalf("played clip: %+v, want the local synthesis", calls)
	}

	if store.Len() != 1 {
		t.Errorf("cache entries: got %d, want 1 (replaced, not duplicated)", store.Len())
	}
	entry, ok := store.MostRecent()
	if !ok || entry.Provider != "say" {
		t.Errorf("cached provider: got %q, want say", entry.Provider)
	}
}

func TestController_SpeakDistinctRequestsDistinctEntries(t *testing.T) {
	engine := &fakeEngine{clip: Clip{Data: []byte("audio"), Format: FormatMP3}}
	store := newTestStore(t)
	c := NewController(engine, store, &audio.MockPlayer{})

	if err := c.Speak(context.Background(), Request{Text: "Hello", Format: FormatMP3}); err != nil {
		t.Fatal(err)
	}
	if err := c.Speak(context.Background(), Request{Text: "Hello", Voice: "nova", Format: FormatMP3}); err != nil {
		t.Fatal(err)
	}

	if engine.synthCalls != 2 {
		t.Errorf("engine calls: got %d, want 2", engine.synthCalls)
	}
	if store.Len() != 2 {
		t.Errorf("cache entries: got %d, want 2", store.Len())
	}
}

func TestController_SpeakWithoutStore(t *testing.T) {
	engine := &fakeEngine{clip: Clip{Data: []byte("audio"), Format: FormatMP3}}
	player := &audio.MockPlayer{}
	c := NewController(engine, nil, player)

	if err := c.Speak(context.Background(), Request{Text: "Hello"}); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if len(player.BytesCalls()) != 1 {
		t.Error("uncached Speak did not play")
	}
}

func TestController_SpeakDegradesOnCacheWriteFailure(t *testing.T) {
	engine := &fakeEngine{clip: Clip{Data: []byte("audio"), Format: FormatMP3}}
	dir := t.TempDir()
	store, err := cache.Open(dir, 10)
	if err != nil {
		t.Fatal(err)
	}
	player := &audio.MockPlayer{}
	c := NewController(engine, store, player)

	// Make the cache directory unwritable so Insert fails.
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })
	if os.Getuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}

	if err := c.Speak(context.Background(), Request{Text: "Hello"}); err != nil {
		t.Fatalf("Speak must degrade to uncached playback, got: %v", err)
	}
	if len(player.BytesCalls()) != 1 {
		t.Error("clip was not played after cache write failure")
	}
}

func TestController_SpeakSurfacesEngineError(t *testing.T) {
	wantErr := errors.New("synthesis exploded")
	engine := &fakeEngine{err: wantErr}
	player := &audio.MockPlayer{}
	c := NewController(engine, newTestStore(t), player)

	err := c.Speak(context.Background(), Request{Text: "Hello"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error: got %v, want %v", err, wantErr)
	}
	if len(player.BytesCalls())+len(player.FileCalls()) != 0 {
		t.Error("playback ran despite synthesis failure")
	}
}

func TestController_SpeakRejectsEmptyText(t *testing.T) {
	c := NewController(&fakeEngine{}, nil, &audio.MockPlayer{})
	if err := c.Speak(context.Background(), Request{Text: "   "}); !errors.Is(err, ErrEmptyText) {
		t.Errorf("error: got %v, want ErrEmptyText", err)
	}
}

func TestController_StreamBypassesCache(t *testing.T) {
	engine := &fakeEngine{streamData: "pcm-chunks"}
	store := newTestStore(t)
	player := &audio.MockPlayer{}
	c := NewController(engine, store, player)

	if err := c.Stream(context.Background(), Request{Text: "Hello"}); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if player.StreamCalls() != 1 {
		t.Errorf("PlayStream calls: got %d, want 1", player.StreamCalls())
	}
	if string(player.StreamData()) != "pcm-chunks" {
		t.Errorf("streamed data: got %q", player.StreamData())
	}

	// Streaming never touches the cache directory.
	if store.Len() != 0 {
		t.Errorf("cache entries after stream: got %d, want 0", store.Len())
	}
	dirents, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(dirents) != 0 {
		t.Errorf("files appeared under the cache directory during streaming: %v", dirents)
	}
}

func TestController_StreamFailureLeavesCacheClean(t *testing.T) {
	engine := &fakeEngine{streamErr: errors.New("stream refused")}
	store := newTestStore(t)
	c := NewController(engine, store, &audio.MockPlayer{})

	if err := c.Stream(context.Background(), Request{Text: "Hello"}); err == nil {
		t.Fatal("Stream reported success for a refused stream")
	}
	dirents, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(dirents) != 0 {
		t.Errorf("failed stream left files in the cache directory: %v", dirents)
	}
}

func TestController_StreamUnsupportedEngine(t *testing.T) {
	// fakeEngine implements StreamingEngine, so build one that does not.
	engine := struct{ Engine }{&fakeEngine{}}
	c := NewController(engine, nil, &audio.MockPlayer{})

	err := c.Stream(context.Background(), Request{Text: "Hello"})
	if !errors.Is(err, ErrStreamingUnsupported) {
		t.Errorf("error: got %v, want ErrStreamingUnsupported", err)
	}
}

func TestController_SaveTo(t *testing.T) {
	engine := &fakeEngine{clip: Clip{Data: []byte("flac-bytes"), Format: FormatFLAC}}
	store := newTestStore(t)
	player := &audio.MockPlayer{}
	c := NewController(engine, store, player)

	out := filepath.Join(t.TempDir(), "speech.flac")
	if err := c.SaveTo(context.Background(), Request{Text: "Hello", Format: FormatFLAC}, out); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	if string(data) != "flac-bytes" {
		t.Errorf("output content: got %q", data)
	}

	// File output neither plays nor caches.
	if len(player.BytesCalls())+len(player.FileCalls()) != 0 {
		t.Error("SaveTo played audio")
	}
	if store.Len() != 0 {
		t.Error("SaveTo cached audio")
	}
}
