package pickup

import (
	"context"
	"fmt"
	"time"

	"github.com/widedata/platform/pkg/common/logger"
	"github.com/widedata/platform/pkg/common/models"
	"github.com/widedata/platform/pkg/crawlerlog"
)

const (
	defaultDestination  = "logic.widedata.dispatch"
	defaultReplyTimeout = 30 * time.Second
	releaseTimeout      = 5 * time.Second
)

// Requester sends a work item to destination and hands back something to wait
// on for the reply. Send must return once the request has left.
type Requester interface {
	Send(ctx context.Context, destination string, item models.WorkItem) (models.ReplyWaiter, error)
}

// Outcome is the result of one dispatch attempt.
type Outcome struct {
	RecordID    int64
	Destination string
	Succeeded   bool
	Skipped     bool
	ReplyStatus string
	Err         error
	Latency     time.Duration
}

// Pending is the future of an in-flight dispatch.
type Pending struct {
	done    chan struct{}
	outcome Outcome
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) complete(o Outcome) {
	p.outcome = o
	close(p.done)
}

// Done is closed once the outcome is known.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Outcome blocks until the dispatch finished.
func (p *Pending) Outcome() Outcome {
	<-p.done
	return p.outcome
}

type DispatcherConfig struct {
	Destination  string
	ReplyTimeout time.Duration
}

type Dispatcher struct {
	requester    Requester
	guard        InFlightGuard
	destination  string
	replyTimeout time.Duration
}

func NewDispatcher(requester Requester, guard InFlightGuard, cfg DispatcherConfig) *Dispatcher {
	if cfg.Destination == "" {
		cfg.Destination = defaultDestination
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	if guard == nil {
		guard = NoopGuard{}
	}
	return &Dispatcher{
		requester:    requester,
		guard:        guard,
		destination:  cfg.Destination,
		replyTimeout: cfg.ReplyTimeout,
	}
}

func (d *Dispatcher) Destination() string {
	return d.destination
}

// NewWorkItem projects rec into the envelope sent downstream. It performs no
// I/O and copies Extra so the item never aliases the record.
func NewWorkItem(rec *crawlerlog.PendingRecord) models.WorkItem {
	return models.WorkItem{
		ID:          rec.ID,
		Status:      int(rec.Status),
		AuthorID:    rec.AuthorID,
		AuthorName:  rec.AuthorName,
		ContentID:   rec.ContentID,
		Description: rec.Description,
		VideoURL:    rec.VideoURL,
		CoverURL:    rec.CoverURL,
		Extra:       copyMap(rec.Extra),
		CreatedAt:   rec.CreatedAt,
	}
}

// Dispatch sends rec and returns without waiting for the reply. The request is
// written before Dispatch returns, so sequential calls keep their order on the
// wire. Failures are logged and reported through the returned Pending only.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *crawlerlog.PendingRecord) *Pending {
	item := NewWorkItem(rec)
	pending := newPending()
	start := time.Now()

	acquired, err := d.guard.Acquire(ctx, item.ID)
	// held is false when the guard failed open; the key may belong to someone else.
	held := acquired
	if err != nil {
		logger.Log.WithError(err).WithField("id", item.ID).Warn("In-flight guard unavailable, dispatching anyway")
		acquired, held = true, false
	}
	if !acquired {
		logger.Log.WithFields(d.fields(item)).Info("Record already in flight, skipping dispatch")
		pending.complete(Outcome{RecordID: item.ID, Destination: d.destination, Skipped: true})
		return pending
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.replyTimeout)
	waiter, err := d.requester.Send(reqCtx, d.destination, item)
	if err != nil {
		cancel()
		d.finish(pending, item, held, "", start, models.Reply{}, err)
		return pending
	}

	var correlationID string
	if c, ok := waiter.(correlated); ok {
		correlationID = c.CorrelationID()
	}

	go func() {
		defer cancel()
		reply, err := waiter.Wait(reqCtx)
		d.finish(pending, item, held, correlationID, start, reply, err)
	}()

	return pending
}

// correlated is implemented by waiters that carry a transport correlation id,
// such as *kafka.Call.
type correlated interface {
	CorrelationID() string
}

func (d *Dispatcher) finish(pending *Pending, item models.WorkItem, held bool, correlationID string, start time.Time, reply models.Reply, err error) {
	if held {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if releaseErr := d.guard.Release(releaseCtx, item.ID); releaseErr != nil {
			logger.Log.WithError(releaseErr).WithField("id", item.ID).Warn("Failed to release in-flight record")
		}
		cancel()
	}

	if err == nil && !reply.Succeeded() {
		err = fmt.Errorf("%w: status=%q %s", ErrReplyRejected, reply.Status, reply.Error)
	}

	outcome := Outcome{
		RecordID:    item.ID,
		Destination: d.destination,
		ReplyStatus: reply.Status,
		Latency:     time.Since(start),
	}

	fields := d.fields(item)
	fields["latency_ms"] = outcome.Latency.Milliseconds()
	if correlationID != "" {
		fields["correlation_id"] = correlationID
	}

	if err != nil {
		outcome.Err = &DispatchError{RecordID: item.ID, Destination: d.destination, Err: err}
		fields["error"] = err.Error()
		logger.Log.WithFields(fields).Info("Received reply failed")
	} else {
		outcome.Succeeded = true
		logger.Log.WithFields(fields).Info("Received reply succeeded")
	}

	pending.complete(outcome)
}

func (d *Dispatcher) fields(item models.WorkItem) map[string]interface{} {
	return map[string]interface{}{
		"destination": d.destination,
		"id":          item.ID,
		"author_id":   item.AuthorID,
		"content_id":  item.ContentID,
	}
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
