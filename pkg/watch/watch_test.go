package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	"github.com/Sriram-PR/campus-crawler/pkg/crawler"
	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/storage"
)

const testStartURL = "https://school.test/"

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"2d6h", 54 * time.Hour, false},
		{"0s", 0, true},
		{"-1h", 0, true},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseInterval(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseInterval(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{24 * time.Hour, "1d"},
		{36 * time.Hour, "1d12h"},
		{7 * 24 * time.Hour, "7d"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := FormatInterval(tt.input)
			if got != tt.expected {
				t.Errorf("FormatInterval(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTickInterval(t *testing.T) {
	assert.Equal(t, time.Minute, tickInterval(30*time.Second))
	assert.Equal(t, 6*time.Minute, tickInterval(time.Hour))
	assert.Equal(t, 10*time.Minute, tickInterval(7*24*time.Hour))
}

func TestStateManager(t *testing.T) {
	dataRoot := t.TempDir()
	sm := NewStateManager(dataRoot)
	require.NoError(t, sm.Load(), "missing state file is not an error")

	assert.True(t, sm.ShouldRun(testStartURL, time.Hour), "never crawled")
	assert.WithinDuration(t, time.Now(), sm.NextRunTime(testStartURL, time.Hour), time.Second)

	ranAt := time.Now().Add(-10 * time.Minute).UTC()
	sm.Record(testStartURL, RunState{LastRunTime: ranAt, PagesCrawled: 42, FilesDownloaded: 3, StopReason: "frontier_empty"})

	assert.False(t, sm.ShouldRun(testStartURL, time.Hour))
	assert.True(t, sm.ShouldRun(testStartURL, 5*time.Minute))
	assert.True(t, ranAt.Add(time.Hour).Equal(sm.NextRunTime(testStartURL, time.Hour)))

	require.NoError(t, sm.Save())
	assert.Equal(t, filepath.Join(dataRoot, storage.StateDirName, stateFileName), sm.Path())
	_, err := os.Stat(sm.Path())
	require.NoError(t, err)

	reloaded := NewStateManager(dataRoot)
	require.NoError(t, reloaded.Load())
	got, ok := reloaded.Get(testStartURL)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.PagesCrawled)
	assert.Equal(t, "frontier_empty", got.StopReason)
	assert.True(t, got.Succeeded())
	assert.True(t, ranAt.Equal(got.LastRunTime))
}

func TestStateManager_CorruptFile(t *testing.T) {
	dataRoot := t.TempDir()
	sm := NewStateManager(dataRoot)
	require.NoError(t, os.MkdirAll(filepath.Dir(sm.Path()), 0755))
	require.NoError(t, os.WriteFile(sm.Path(), []byte("{not json"), 0644))

	assert.Error(t, sm.Load())
}

// fakeRun records each crawl and returns a scripted outcome
type fakeRun struct {
	mu      sync.Mutex
	calls   int
	configs []*config.AppConfig
	reason  crawler.StopReason
	err     error
	after   func() // Invoked after each call
}

func (f *fakeRun) run(ctx context.Context, cfg *config.AppConfig, _ crawler.Options, _ *logrus.Entry) (models.CrawlCounters, crawler.StopReason, error) {
	f.mu.Lock()
	f.calls++
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()
	if f.after != nil {
		f.after()
	}
	return models.CrawlCounters{PagesCrawled: 7, FilesDownloaded: 2, Errors: 1}, f.reason, f.err
}

func (f *fakeRun) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestScheduler(t *testing.T, dataRoot string, fake *fakeRun) *Scheduler {
	t.Helper()
	cfg := config.Default()
	cfg.StartURL = testStartURL
	cfg.DataDir = dataRoot
	log := logrus.New()
	log.SetOutput(io.Discard)

	s := NewScheduler(cfg, time.Hour, logrus.NewEntry(log))
	s.SetRunFunc(fake.run)
	s.tick = 5 * time.Millisecond
	return s
}

func TestScheduler_RunsWhenDueAndRecords(t *testing.T) {
	dataRoot := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeRun{reason: crawler.StopFrontierEmpty, after: cancel}
	s := newTestScheduler(t, dataRoot, fake)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, fake.count())
	assert.NotSame(t, s.cfg, fake.configs[0], "each run gets its own config copy")

	status, err := s.Status()
	require.NoError(t, err)
	assert.False(t, status.NeverRun)
	assert.Equal(t, int64(7), status.LastRun.PagesCrawled)
	assert.Equal(t, int64(2), status.LastRun.FilesDownloaded)
	assert.Equal(t, "frontier_empty", status.LastRun.StopReason)
	assert.WithinDuration(t, time.Now().Add(time.Hour), status.NextRunTime, time.Minute)
}

func TestScheduler_RestartWaitsOutInterval(t *testing.T) {
	dataRoot := t.TempDir()

	first := &fakeRun{reason: crawler.StopPageLimit}
	ctx, cancel := context.WithCancel(context.Background())
	first.after = cancel
	require.NoError(t, newTestScheduler(t, dataRoot, first).Run(ctx))
	require.Equal(t, 1, first.count())

	second := &fakeRun{reason: crawler.StopPageLimit}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	require.NoError(t, newTestScheduler(t, dataRoot, second).Run(ctx2))

	assert.Equal(t, 0, second.count(), "last run is less than an interval old")
}

func TestScheduler_FailureIsRecorded(t *testing.T) {
	dataRoot := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeRun{err: errors.New("disk full"), after: cancel}
	s := newTestScheduler(t, dataRoot, fake)
	require.NoError(t, s.Run(ctx))

	status, err := s.Status()
	require.NoError(t, err)
	assert.False(t, status.LastRun.Succeeded())
	assert.Equal(t, "disk full", status.LastRun.ErrorMessage)
}

func TestScheduler_CancelledRunIsNotRecorded(t *testing.T) {
	dataRoot := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeRun{reason: crawler.StopCancelled, after: cancel}
	s := newTestScheduler(t, dataRoot, fake)
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, fake.count())

	status, err := s.Status()
	require.NoError(t, err)
	assert.True(t, status.NeverRun)
	_, err = os.Stat(s.state.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestScheduler_StatusWithoutState(t *testing.T) {
	s := newTestScheduler(t, t.TempDir(), &fakeRun{})

	status, err := s.Status()
	require.NoError(t, err)
	assert.True(t, status.NeverRun)
	assert.Equal(t, testStartURL, status.StartURL)
}
