package pickup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/widedata/platform/pkg/common/logger"
	"github.com/widedata/platform/pkg/crawlerlog"
)

const (
	defaultPageSize = 100
	defaultWorkers  = 4
)

// RowQuerier runs a select and returns its rows in result order.
type RowQuerier interface {
	QueryRows(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// RowMapper turns a row into a record; false means the row is unusable.
type RowMapper func(row map[string]interface{}) (*crawlerlog.PendingRecord, bool)

// RecordDispatcher is implemented by *Dispatcher.
type RecordDispatcher interface {
	Dispatch(ctx context.Context, rec *crawlerlog.PendingRecord) *Pending
}

// ReportSink receives every finished CycleReport.
type ReportSink interface {
	ObserveCycle(report CycleReport)
}

type ReportSinkFunc func(report CycleReport)

func (f ReportSinkFunc) ObserveCycle(report CycleReport) { f(report) }

// CycleReport summarises one pickup cycle once every dispatch has an outcome.
type CycleReport struct {
	ID              string    `json:"id"`
	Query           string    `json:"query"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	RowsReturned    int       `json:"rows_returned"`
	RowsMapped      int       `json:"rows_mapped"`
	MappingAbsences int       `json:"mapping_absences"`
	Dispatched      int       `json:"dispatched"`
	Skipped         int       `json:"skipped"`
	Succeeded       int       `json:"succeeded"`
	Failed          int       `json:"failed"`
	QueryError      string    `json:"query_error,omitempty"`
	Cancelled       bool      `json:"cancelled,omitempty"`
	DispatchedIDs   []int64   `json:"-"`
}

func (r CycleReport) Fields() map[string]interface{} {
	return map[string]interface{}{
		"cycle_id":         r.ID,
		"rows_returned":    r.RowsReturned,
		"rows_mapped":      r.RowsMapped,
		"mapping_absences": r.MappingAbsences,
		"dispatched":       r.Dispatched,
		"skipped":          r.Skipped,
		"succeeded":        r.Succeeded,
		"failed":           r.Failed,
		"duration_ms":      r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
}

// CycleHandle lets a caller optionally wait for a cycle's report.
type CycleHandle struct {
	id     string
	done   chan struct{}
	report CycleReport
}

func (h *CycleHandle) ID() string {
	return h.id
}

func (h *CycleHandle) Done() <-chan struct{} {
	return h.done
}

func (h *CycleHandle) Wait() CycleReport {
	<-h.done
	return h.report
}

type PickerConfig struct {
	PageSize int
	Workers  int
}

// Picker runs pickup cycles: query pending records, map rows, dispatch each
// record in row order.
type Picker struct {
	store      RowQuerier
	mapRow     RowMapper
	dispatcher RecordDispatcher
	sinks      []ReportSink

	pageSize int
	workers  chan struct{}

	mu   sync.RWMutex
	last *CycleReport
}

func NewPicker(store RowQuerier, mapRow RowMapper, dispatcher RecordDispatcher, cfg PickerConfig, sinks ...ReportSink) *Picker {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if mapRow == nil {
		mapRow = crawlerlog.MapRow
	}
	return &Picker{
		store:      store,
		mapRow:     mapRow,
		dispatcher: dispatcher,
		sinks:      sinks,
		pageSize:   cfg.PageSize,
		workers:    make(chan struct{}, cfg.Workers),
	}
}

// Trigger starts a cycle and does not wait for it. It is the scheduler's
// cycle function.
func (p *Picker) Trigger(ctx context.Context) {
	p.Cycle(ctx)
}

// Cycle starts one pickup cycle on the worker pool and returns immediately.
// Cycles are not serialised: a new one may start while earlier dispatches are
// still waiting for replies.
func (p *Picker) Cycle(ctx context.Context) *CycleHandle {
	h := &CycleHandle{id: uuid.New().String(), done: make(chan struct{})}
	report := CycleReport{
		ID:        h.id,
		Query:     crawlerlog.PendingQuery(p.pageSize),
		StartedAt: time.Now().UTC(),
	}

	go func() {
		select {
		case p.workers <- struct{}{}:
		case <-ctx.Done():
			report.Cancelled = true
			p.finish(h, report)
			return
		}

		pendings, ok := p.run(ctx, &report)
		<-p.workers

		if !ok {
			p.finish(h, report)
			return
		}
		go p.collect(h, report, pendings)
	}()

	return h
}

// run executes the query and submits every mapped row. It reports false when
// the cycle ended without dispatching.
func (p *Picker) run(ctx context.Context, report *CycleReport) (pendings []*Pending, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithFields(map[string]interface{}{
				"cycle_id": report.ID,
				"panic":    fmt.Sprint(r),
			}).Error("Pickup cycle panicked")
			report.QueryError = fmt.Sprintf("panic: %v", r)
			// Dispatches already submitted still complete on their own.
			report.Dispatched = len(pendings)
			ok = len(pendings) > 0
		}
	}()

	rows, err := p.store.QueryRows(ctx, report.Query)
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"cycle_id": report.ID,
			"sql":      report.Query,
		}).Error("Pending record query failed")
		report.QueryError = err.Error()
		return nil, false
	}

	report.RowsReturned = len(rows)
	if len(rows) == 0 {
		logger.Log.WithField("cycle_id", report.ID).Debug("No pending records")
		return nil, false
	}

	pendings = make([]*Pending, 0, len(rows))
	for i, row := range rows {
		rec, mapped := p.mapRow(row)
		if !mapped || rec == nil {
			report.MappingAbsences++
			logger.Log.WithFields(map[string]interface{}{
				"cycle_id": report.ID,
				"row":      i,
			}).Info("Skipping row without a usable record")
			continue
		}
		report.RowsMapped++
		report.DispatchedIDs = append(report.DispatchedIDs, rec.ID)
		pendings = append(pendings, p.dispatcher.Dispatch(ctx, rec))
	}
	report.Dispatched = len(pendings)

	logger.Log.WithFields(map[string]interface{}{
		"cycle_id":         report.ID,
		"rows_returned":    report.RowsReturned,
		"mapping_absences": report.MappingAbsences,
		"dispatched":       report.Dispatched,
	}).Info("Pickup cycle submitted")

	return pendings, len(pendings) > 0
}

func (p *Picker) collect(h *CycleHandle, report CycleReport, pendings []*Pending) {
	for _, pending := range pendings {
		outcome := pending.Outcome()
		switch {
		case outcome.Skipped:
			report.Skipped++
		case outcome.Succeeded:
			report.Succeeded++
		default:
			report.Failed++
		}
	}
	p.finish(h, report)
}

func (p *Picker) finish(h *CycleHandle, report CycleReport) {
	defer close(h.done)

	report.FinishedAt = time.Now().UTC()
	h.report = report

	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()

	for _, sink := range p.sinks {
		observe(sink, report)
	}

	if report.Dispatched > 0 {
		logger.Log.WithFields(report.Fields()).Info("Pickup cycle completed")
	}
}

// observe runs on a detached goroutine, so a panicking sink must not escape.
func observe(sink ReportSink, report CycleReport) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithFields(map[string]interface{}{
				"cycle_id": report.ID,
				"panic":    fmt.Sprint(r),
			}).Error("Cycle report sink panicked")
		}
	}()
	sink.ObserveCycle(report)
}

// LastReport returns the most recently finished cycle, if any.
func (p *Picker) LastReport() (CycleReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return CycleReport{}, false
	}
	return *p.last, true
}
