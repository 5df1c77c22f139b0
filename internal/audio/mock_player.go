package audio

import (
	"context"
	"io"
	"sync"
)

// MockPlayer records playback calls instead of making noise. Tests in
// other packages use it to assert which playback mode ran and with what.
type MockPlayer struct {
	mu sync.Mutex

	// Err, when set, is returned by every playback call.
	Err error

	bytesCalls  []MockPlayback
	fileCalls   []MockPlayback
	streamCalls int
	streamData  []byte
}

// MockPlayback captures the arguments of one buffered playback call.
type MockPlayback struct {
	Data   []byte
	Path   string
	Format string
}

// PlayBytes records the clip.
func (m *MockPlayer) PlayBytes(_ context.Context, data []byte, format string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.bytesCalls = append(m.bytesCalls, MockPlayback{Data: buf, Format: format})
	return nil
}

// PlayFile records the path.
func (m *MockPlayer) PlayFile(_ context.Context, path, format string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.fileCalls = append(m.fileCalls, MockPlayback{Path: path, Format: format})
	return nil
}

// PlayStream drains the reader, recording everything it delivered.
func (m *MockPlayer) PlayStream(_ context.Context, stream io.Reader) error {
	m.mu.Lock()
	if m.Err != nil {
		m.mu.Unlock()
		return m.Err
	}
	m.streamCalls++
	m.mu.Unlock()

	data, err := io.ReadAll(stream)

	m.mu.Lock()
	m.streamData = append(m.streamData, data...)
	m.mu.Unlock()
	return err
}

// BytesCalls returns recorded PlayBytes invocations.
func (m *MockPlayer) BytesCalls() []MockPlayback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockPlayback(nil), m.bytesCalls...)
}

// FileCalls returns recorded PlayFile invocations.
func (m *MockPlayer) FileCalls() []MockPlayback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockPlayback(nil), m.fileCalls...)
}

// StreamCalls returns how many streams were played.
func (m *MockPlayer) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// StreamData returns everything delivered through PlayStream.
func (m *MockPlayer) StreamData() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.streamData...)
}

var _ Player = (*MockPlayer)(nil)
