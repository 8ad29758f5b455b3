package pickup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/widedata/platform/pkg/common/models"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    []map[string]interface{}
	err     error
	queries []string
}

func (s *fakeStore) QueryRows(_ context.Context, sql string, _ ...interface{}) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, sql)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]map[string]interface{}, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

func (s *fakeStore) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type sentRequest struct {
	Destination string
	Item        models.WorkItem
}

// fakeRequester answers every request with ok unless told otherwise.
type fakeRequester struct {
	mu       sync.Mutex
	sent     []sentRequest
	sendErr  map[int64]error
	rejected map[int64]string
	block    map[int64]chan struct{}
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{
		sendErr:  make(map[int64]error),
		rejected: make(map[int64]string),
		block:    make(map[int64]chan struct{}),
	}
}

func (r *fakeRequester) Send(_ context.Context, destination string, item models.WorkItem) (models.ReplyWaiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.sendErr[item.ID]; ok {
		return nil, err
	}
	r.sent = append(r.sent, sentRequest{Destination: destination, Item: item})

	reply := models.Reply{Status: models.ReplyStatusOK, Timestamp: time.Now()}
	if cause, ok := r.rejected[item.ID]; ok {
		reply = models.Reply{Status: models.ReplyStatusError, Error: cause, Timestamp: time.Now()}
	}
	return &fakeWaiter{
		reply:         reply,
		block:         r.block[item.ID],
		correlationID: fmt.Sprintf("corr-%d", item.ID),
	}, nil
}

func (r *fakeRequester) Sent() []sentRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentRequest(nil), r.sent...)
}

func (r *fakeRequester) SentIDs() []int64 {
	sent := r.Sent()
	ids := make([]int64, len(sent))
	for i, s := range sent {
		ids[i] = s.Item.ID
	}
	return ids
}

type fakeWaiter struct {
	reply         models.Reply
	block         chan struct{}
	correlationID string
}

func (w *fakeWaiter) CorrelationID() string {
	return w.correlationID
}

var errWaitAborted = errors.New("wait aborted")

func (w *fakeWaiter) Wait(ctx context.Context) (models.Reply, error) {
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return models.Reply{}, errWaitAborted
		}
	}
	return w.reply, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func pendingRow(id int64) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"status":     int64(0),
		"author_id":  "author",
		"content_id": "content",
		"ct":         time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC).Add(-time.Duration(id) * time.Minute),
	}
}
