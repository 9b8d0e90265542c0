package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

type proposerStub struct {
	mu     sync.Mutex
	reqs   []dto.ProposeScheduleRequest
	actors []string
	err    error
}

func (s *proposerStub) Propose(ctx context.Context, req dto.ProposeScheduleRequest, actor string) (*dto.ScheduleVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	s.actors = append(s.actors, actor)
	if s.err != nil {
		return nil, s.err
	}
	return &dto.ScheduleVersionResponse{VersionID: int64(len(s.reqs))}, nil
}

func (s *proposerStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func writeScheduleFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcherAppliesFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	writeScheduleFile(t, path, `{"version":2,"sequence":[]}`)

	proposer := &proposerStub{}
	w, err := New(proposer, zap.NewNop(), Config{Path: path})
	require.NoError(t, err)

	w.apply(context.Background())

	require.Equal(t, 1, proposer.count())
	assert.Equal(t, "file-watcher", proposer.actors[0])
	assert.JSONEq(t, `{"version":2,"sequence":[]}`, string(proposer.reqs[0].Document))
	assert.Contains(t, proposer.reqs[0].Summary, "schedule.json")
}

func TestWatcherDeduplicatesIdenticalContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	writeScheduleFile(t, path, `{"version":2}`)

	proposer := &proposerStub{}
	w, err := New(proposer, zap.NewNop(), Config{Path: path})
	require.NoError(t, err)

	w.apply(context.Background())
	w.apply(context.Background())
	require.Equal(t, 1, proposer.count())

	writeScheduleFile(t, path, `{"version":2,"metadata":{}}`)
	w.apply(context.Background())
	require.Equal(t, 2, proposer.count())
}

func TestWatcherPrimeSuppressesInitialContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	writeScheduleFile(t, path, `{"version":2}`)

	proposer := &proposerStub{}
	w, err := New(proposer, zap.NewNop(), Config{Path: path})
	require.NoError(t, err)

	w.Prime()
	w.apply(context.Background())
	assert.Zero(t, proposer.count())
}

func TestWatcherRemembersRejectedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	writeScheduleFile(t, path, `{"version":9}`)

	proposer := &proposerStub{err: appErrors.Clone(appErrors.ErrDocumentInvalid, "unsupported schema version")}
	w, err := New(proposer, zap.NewNop(), Config{Path: path})
	require.NoError(t, err)

	w.apply(context.Background())
	w.apply(context.Background())
	assert.Equal(t, 1, proposer.count())
}

func TestWatcherRetriesAfterTransientFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	writeScheduleFile(t, path, `{"version":2}`)

	proposer := &proposerStub{err: appErrors.Clone(appErrors.ErrInternal, "database unavailable")}
	w, err := New(proposer, zap.NewNop(), Config{Path: path})
	require.NoError(t, err)

	w.apply(context.Background())
	require.Equal(t, 1, proposer.count())

	proposer.mu.Lock()
	proposer.err = nil
	proposer.mu.Unlock()
	w.apply(context.Background())
	assert.Equal(t, 2, proposer.count())
}

func TestWatcherRequiresPath(t *testing.T) {
	_, err := New(&proposerStub{}, zap.NewNop(), Config{})
	require.Error(t, err)
}

func TestWatcherRunPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.json")
	writeScheduleFile(t, path, `{"version":2,"sequence":[]}`)

	proposer := &proposerStub{}
	w, err := New(proposer, zap.NewNop(), Config{Path: path, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	w.Prime()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watch a moment to attach before writing.
	time.Sleep(50 * time.Millisecond)
	writeScheduleFile(t, path, `{"version":2,"sequence":[{"screen":"date"}]}`)

	require.Eventually(t, func() bool { return proposer.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "file-watcher", proposer.actors[0])
}

func TestWatcherRunDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.json")
	writeScheduleFile(t, path, `{"version":2,"sequence":[]}`)

	proposer := &proposerStub{}
	w, err := New(proposer, zap.NewNop(), Config{Path: path, Debounce: 100 * time.Millisecond})
	require.NoError(t, err)
	w.Prime()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		writeScheduleFile(t, path, `{"version":2,"sequence":[{"screen":"date"}]}`)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return proposer.count() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, proposer.count())
}
