package pickup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/widedata/platform/pkg/common/logger"
	"github.com/widedata/platform/pkg/crawlerlog"
	"gorm.io/datatypes"
)

func testRecord(id int64) *crawlerlog.PendingRecord {
	return &crawlerlog.PendingRecord{
		ID:        id,
		Status:    crawlerlog.StatusAuthorDone,
		AuthorID:  "a-1",
		ContentID: "c-1",
		CreatedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewWorkItemCopiesExtra(t *testing.T) {
	rec := testRecord(11)
	rec.Extra = datatypes.JSONMap{
		"tags":  []interface{}{"a", "b"},
		"stats": map[string]interface{}{"likes": float64(3)},
	}

	item := NewWorkItem(rec)

	assert.Equal(t, int64(11), item.ID)
	assert.Equal(t, int(crawlerlog.StatusAuthorDone), item.Status)
	assert.Equal(t, "a-1", item.AuthorID)
	assert.Equal(t, rec.CreatedAt, item.CreatedAt)

	item.Extra["stats"].(map[string]interface{})["likes"] = float64(99)
	item.Extra["tags"].([]interface{})[0] = "z"

	assert.Equal(t, float64(3), rec.Extra["stats"].(map[string]interface{})["likes"])
	assert.Equal(t, "a", rec.Extra["tags"].([]interface{})[0])
}

func TestDispatchSuccess(t *testing.T) {
	requester := newFakeRequester()
	d := NewDispatcher(requester, nil, DispatcherConfig{Destination: "custom.dest"})

	outcome := d.Dispatch(context.Background(), testRecord(1)).Outcome()

	assert.True(t, outcome.Succeeded)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, "custom.dest", outcome.Destination)
	require.Len(t, requester.Sent(), 1)
	assert.Equal(t, "custom.dest", requester.Sent()[0].Destination)
}

func TestDispatchRejectedReply(t *testing.T) {
	requester := newFakeRequester()
	requester.rejected[1] = "no handler"
	d := NewDispatcher(requester, nil, DispatcherConfig{})

	outcome := d.Dispatch(context.Background(), testRecord(1)).Outcome()

	assert.False(t, outcome.Succeeded)
	assert.ErrorIs(t, outcome.Err, ErrReplyRejected)
	assert.True(t, IsDispatchError(outcome.Err))
	assert.Contains(t, outcome.Err.Error(), "no handler")
	assert.Len(t, requester.Sent(), 1)
}

func TestDispatchSendFailure(t *testing.T) {
	sendErr := errors.New("broker unreachable")
	requester := newFakeRequester()
	requester.sendErr[1] = sendErr
	guard := NewMemoryGuard()
	d := NewDispatcher(requester, guard, DispatcherConfig{})

	outcome := d.Dispatch(context.Background(), testRecord(1)).Outcome()

	assert.False(t, outcome.Succeeded)
	assert.ErrorIs(t, outcome.Err, sendErr)
	assert.Zero(t, guard.Len())
}

func TestDispatchReplyTimeout(t *testing.T) {
	requester := newFakeRequester()
	requester.block[1] = make(chan struct{})
	d := NewDispatcher(requester, nil, DispatcherConfig{ReplyTimeout: 20 * time.Millisecond})

	outcome := d.Dispatch(context.Background(), testRecord(1)).Outcome()

	assert.False(t, outcome.Succeeded)
	assert.ErrorIs(t, outcome.Err, errWaitAborted)
}

func TestDispatchSkipsRecordInFlight(t *testing.T) {
	requester := newFakeRequester()
	release := make(chan struct{})
	requester.block[1] = release
	guard := NewMemoryGuard()
	d := NewDispatcher(requester, guard, DispatcherConfig{ReplyTimeout: time.Second})

	first := d.Dispatch(context.Background(), testRecord(1))
	second := d.Dispatch(context.Background(), testRecord(1)).Outcome()

	assert.True(t, second.Skipped)
	assert.False(t, second.Succeeded)
	assert.Len(t, requester.Sent(), 1)

	close(release)
	assert.True(t, first.Outcome().Succeeded)
	assert.Zero(t, guard.Len())

	delete(requester.block, 1)
	third := d.Dispatch(context.Background(), testRecord(1)).Outcome()
	assert.True(t, third.Succeeded)
	assert.Len(t, requester.Sent(), 2)
}

type brokenGuard struct {
	mu       sync.Mutex
	releases int
}

func (g *brokenGuard) Acquire(context.Context, int64) (bool, error) {
	return false, errors.New("redis down")
}

func (g *brokenGuard) Release(context.Context, int64) error {
	g.mu.Lock()
	g.releases++
	g.mu.Unlock()
	return nil
}

func TestDispatchFailsOpenWhenGuardErrors(t *testing.T) {
	requester := newFakeRequester()
	guard := &brokenGuard{}
	d := NewDispatcher(requester, guard, DispatcherConfig{})

	outcome := d.Dispatch(context.Background(), testRecord(3)).Outcome()

	assert.True(t, outcome.Succeeded)
	assert.Len(t, requester.Sent(), 1)

	// The key was never ours, so it must not be deleted.
	guard.mu.Lock()
	defer guard.mu.Unlock()
	assert.Zero(t, guard.releases)
}

func TestDispatchFailOpenKeepsForeignRedisKey(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	other := NewRedisGuard(client, "", time.Minute)
	ok, err := other.Acquire(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)

	failing := &failingAcquire{InFlightGuard: NewRedisGuard(client, "", time.Minute)}
	d := NewDispatcher(newFakeRequester(), failing, DispatcherConfig{})

	outcome := d.Dispatch(ctx, testRecord(9)).Outcome()

	assert.True(t, outcome.Succeeded)
	assert.True(t, mr.Exists("pickup:inflight:9"))
}

// failingAcquire reports an error from Acquire but releases through the
// wrapped guard.
type failingAcquire struct {
	InFlightGuard
}

func (f *failingAcquire) Acquire(context.Context, int64) (bool, error) {
	return false, errors.New("timeout talking to redis")
}

func TestDispatchLogsCorrelationID(t *testing.T) {
	buf := &syncBuffer{}
	restore := logger.Capture(buf)
	defer restore()

	d := NewDispatcher(newFakeRequester(), nil, DispatcherConfig{})
	outcome := d.Dispatch(context.Background(), testRecord(4)).Outcome()

	require.True(t, outcome.Succeeded)
	assert.Contains(t, buf.String(), `"correlation_id":"corr-4"`)
}
