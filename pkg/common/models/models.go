package models

import (
	"context"
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // pickup.cycle
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// WorkItem is the envelope sent to the wide-data dispatch stage. It carries a
// copy of everything the downstream stage needs and nothing it can mutate.
type WorkItem struct {
	ID          int64                  `json:"id"`
	Status      int                    `json:"status"`
	AuthorID    string                 `json:"author_id"`
	AuthorName  string                 `json:"author_name,omitempty"`
	ContentID   string                 `json:"content_id"`
	Description string                 `json:"description,omitempty"`
	VideoURL    string                 `json:"video_url,omitempty"`
	CoverURL    string                 `json:"cover_url,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

const (
	ReplyStatusOK    = "ok"
	ReplyStatusError = "error"
)

// Reply is the acknowledgement written back by the dispatch stage.
type Reply struct {
	CorrelationID string    `json:"correlation_id"`
	Status        string    `json:"status"` // ok, error
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (r Reply) Succeeded() bool {
	return r.Status == ReplyStatusOK
}

// ReplyWaiter is a sent request whose reply has not been collected yet.
type ReplyWaiter interface {
	Wait(ctx context.Context) (Reply, error)
}
