package edgesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
)

// fakeHeartbeatSender records every beat it is handed.
type fakeHeartbeatSender struct {
	mu    sync.Mutex
	beats []*Heartbeat
	err   error
	sent  chan struct{}
}

func (f *fakeHeartbeatSender) SendHeartbeat(_ context.Context, hb *Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats = append(f.beats, hb)
	if f.sent != nil {
		select {
		case f.sent <- struct{}{}:
		default:
		}
	}
	return f.err
}

func (f *fakeHeartbeatSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.beats)
}

func (f *fakeHeartbeatSender) last() *Heartbeat {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.beats) == 0 {
		return nil
	}
	return f.beats[len(f.beats)-1]
}

func testHeartbeatSettings() *conf.Settings {
	settings := testSyncSettings()
	settings.Version = "0.9.0"
	settings.Edge.PropertyID = "prop-1"
	settings.Edge.Heartbeat.IntervalSeconds = 30
	return settings
}

func TestBeatCarriesCacheState(t *testing.T) {
	t.Parallel()

	snapshot := cloudSnapshot(3, "ABC-1234")
	cache := newTestCache(t)
	adopted, err := cache.Adopt(snapshot, time.Now())
	require.NoError(t, err)
	require.True(t, adopted)

	sender := &fakeHeartbeatSender{}
	hb := NewHeartbeater(sender, cache, nil, testHeartbeatSettings())
	require.NoError(t, hb.Beat(context.Background()))

	beat := sender.last()
	require.NotNil(t, beat)
	assert.Equal(t, "prop-1", beat.PropertyID)
	assert.Equal(t, datastore.DeviceOnline, beat.Status)
	assert.Equal(t, uint64(3), beat.SnapshotVersion)
	assert.Equal(t, snapshot.Fingerprint, beat.Fingerprint)
	assert.Empty(t, beat.LastError)
	assert.Equal(t, "0.9.0", beat.Firmware)
}

func TestBeatBeforeFirstSync(t *testing.T) {
	t.Parallel()

	sender := &fakeHeartbeatSender{}
	hb := NewHeartbeater(sender, newTestCache(t), nil, testHeartbeatSettings())
	require.NoError(t, hb.Beat(context.Background()))

	beat := sender.last()
	require.NotNil(t, beat)
	assert.Equal(t, datastore.DeviceOnline, beat.Status)
	assert.Zero(t, beat.SnapshotVersion)
	assert.Empty(t, beat.Fingerprint)
}

func TestBeatReportsSyncError(t *testing.T) {
	t.Parallel()

	// Tampered snapshot: the claimed fingerprint no longer matches the rows,
	// so the sync attempt fails and the runner records the error.
	snapshot := cloudSnapshot(4, "ABC-1234")
	source := &fakeSource{}
	source.serve(snapshot)
	snapshot.Fingerprint = "deadbeef"
	source.info.Fingerprint = "deadbeef"

	cache := newTestCache(t)
	runner := NewRunner(source, cache, testSyncSettings())
	require.Error(t, runner.SyncOnce(context.Background()))

	sender := &fakeHeartbeatSender{}
	hb := NewHeartbeater(sender, cache, runner, testHeartbeatSettings())
	require.NoError(t, hb.Beat(context.Background()))

	beat := sender.last()
	require.NotNil(t, beat)
	assert.Equal(t, datastore.DeviceError, beat.Status)
	assert.NotEmpty(t, beat.LastError)
}

func TestBeatClearsErrorAfterRecovery(t *testing.T) {
	t.Parallel()

	source := &fakeSource{infoErr: context.DeadlineExceeded}
	cache := newTestCache(t)
	runner := NewRunner(source, cache, testSyncSettings())
	require.Error(t, runner.SyncOnce(context.Background()))

	// Cloud comes back, the next cycle succeeds.
	source.mu.Lock()
	source.infoErr = nil
	source.mu.Unlock()
	source.serve(cloudSnapshot(1, "ABC-1234"))
	require.NoError(t, runner.SyncOnce(context.Background()))

	sender := &fakeHeartbeatSender{}
	hb := NewHeartbeater(sender, cache, runner, testHeartbeatSettings())
	require.NoError(t, hb.Beat(context.Background()))

	beat := sender.last()
	require.NotNil(t, beat)
	assert.Equal(t, datastore.DeviceOnline, beat.Status)
	assert.Empty(t, beat.LastError)
	assert.Equal(t, uint64(1), beat.SnapshotVersion)
}

func TestBeatReturnsSenderError(t *testing.T) {
	t.Parallel()

	sender := &fakeHeartbeatSender{err: context.DeadlineExceeded}
	hb := NewHeartbeater(sender, newTestCache(t), nil, testHeartbeatSettings())

	require.Error(t, hb.Beat(context.Background()))
	assert.Equal(t, 1, sender.count(), "failed beat still reaches the sender")
}

func TestNewHeartbeaterDefaults(t *testing.T) {
	t.Parallel()

	hb := NewHeartbeater(&fakeHeartbeatSender{}, newTestCache(t), nil, &conf.Settings{})
	assert.Equal(t, 30*time.Second, hb.interval)
	assert.Equal(t, 10*time.Second, hb.timeout)
}

func TestHeartbeatLoopFirstBeatIsImmediate(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)

	sender := &fakeHeartbeatSender{sent: make(chan struct{}, 4)}
	settings := testHeartbeatSettings()
	settings.Edge.Heartbeat.IntervalSeconds = 3600

	hb := NewHeartbeater(sender, newTestCache(t), nil, settings)

	ctx, cancel := context.WithCancel(context.Background())
	hb.Start(ctx)

	select {
	case <-sender.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("no beat sent on startup")
	}

	cancel()
	hb.Wait()
	assert.Equal(t, 1, sender.count())
}
