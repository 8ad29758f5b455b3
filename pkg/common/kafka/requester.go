package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/widedata/platform/pkg/common/logger"
	"github.com/widedata/platform/pkg/common/models"
)

const (
	HeaderCorrelationID = "correlation-id"
	HeaderReplyTo       = "reply-to"
	HeaderMessageType   = "message-type"
	HeaderSource        = "source"

	MessageTypeWorkItem = "widedata.work_item"
)

var (
	ErrRequesterClosed = errors.New("requester is closed")
	ErrNoReply         = errors.New("no reply received")
)

// Requester implements request/reply on top of two topics. Requests go to the
// destination topic passed to Send; replies are read from replyTopic and
// matched back to the caller by correlation id.
type Requester struct {
	writer     MessageWriter
	replies    *Consumer
	replyTopic string
	source     string

	mu      sync.Mutex
	pending map[string]chan models.Reply
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRequester(brokers []string, replyTopic, source string) *Requester {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}

	return newRequester(writer, NewConsumer(brokers, replyTopic, ""), replyTopic, source)
}

func newRequester(writer MessageWriter, replies *Consumer, replyTopic, source string) *Requester {
	return &Requester{
		writer:     writer,
		replies:    replies,
		replyTopic: replyTopic,
		source:     source,
		pending:    make(map[string]chan models.Reply),
	}
}

// Start runs the reply listener until ctx is cancelled or Close is called.
func (r *Requester) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.replies.Consume(ctx, r.handleReply); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).WithField("reply_topic", r.replyTopic).Error("Reply listener stopped")
		}
	}()

	logger.Log.WithField("reply_topic", r.replyTopic).Info("Reply listener started")
}

// Call is a request that has been written and may still be waiting for its
// reply.
type Call struct {
	requester     *Requester
	correlationID string
	replyCh       chan models.Reply
}

func (c *Call) CorrelationID() string {
	return c.correlationID
}

// Wait blocks until the reply arrives or ctx ends. The call is forgotten
// either way, so Wait must be called at most once.
func (c *Call) Wait(ctx context.Context) (models.Reply, error) {
	defer c.requester.forget(c.correlationID)

	select {
	case reply, ok := <-c.replyCh:
		if !ok {
			return models.Reply{}, ErrRequesterClosed
		}
		return reply, nil
	case <-ctx.Done():
		return models.Reply{}, fmt.Errorf("%w: %v", ErrNoReply, ctx.Err())
	}
}

// Send writes item to topic and registers for its reply. The write itself is
// synchronous so requests leave in the order Send is called.
func (r *Requester) Send(ctx context.Context, topic string, item models.WorkItem) (models.ReplyWaiter, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal work item %d: %w", item.ID, err)
	}

	call := &Call{
		requester:     r,
		correlationID: uuid.New().String(),
		replyCh:       make(chan models.Reply, 1),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRequesterClosed
	}
	r.pending[call.correlationID] = call.replyCh
	r.mu.Unlock()

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(item.ID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderCorrelationID, Value: []byte(call.correlationID)},
			{Key: HeaderReplyTo, Value: []byte(r.replyTopic)},
			{Key: HeaderMessageType, Value: []byte(MessageTypeWorkItem)},
			{Key: HeaderSource, Value: []byte(r.source)},
		},
	}

	if err := r.writer.WriteMessages(ctx, message); err != nil {
		r.forget(call.correlationID)
		return nil, fmt.Errorf("write request to %s: %w", topic, err)
	}
	return call, nil
}

// Request is Send followed by Wait.
func (r *Requester) Request(ctx context.Context, topic string, item models.WorkItem) (models.Reply, error) {
	call, err := r.Send(ctx, topic, item)
	if err != nil {
		return models.Reply{}, err
	}
	return call.Wait(ctx)
}

func (r *Requester) forget(correlationID string) {
	r.mu.Lock()
	delete(r.pending, correlationID)
	r.mu.Unlock()
}

func (r *Requester) handleReply(_ context.Context, message kafka.Message) error {
	var reply models.Reply
	if err := json.Unmarshal(message.Value, &reply); err != nil {
		// Undecodable replies can never be matched; drop them.
		logger.Log.WithError(err).WithField("offset", message.Offset).Warn("Dropping malformed reply")
		return nil
	}
	if header := headerValue(message.Headers, HeaderCorrelationID); header != "" {
		reply.CorrelationID = header
	}

	r.mu.Lock()
	replyCh, ok := r.pending[reply.CorrelationID]
	if ok {
		delete(r.pending, reply.CorrelationID)
		replyCh <- reply
	}
	r.mu.Unlock()

	if !ok {
		logger.Log.WithField("correlation_id", reply.CorrelationID).Debug("Reply without waiting request")
	}
	return nil
}

// Pending reports how many requests are waiting for a reply.
func (r *Requester) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Requester) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	readerErr := r.replies.Close()
	r.wg.Wait()
	writerErr := r.writer.Close()

	return errors.Join(readerErr, writerErr)
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
