package postback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/config"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/logger"
)

// Handler types.
const (
	TypeCSV     = "csv"
	TypeXLSX    = "xlsx"
	TypeJSON    = "json"
	TypeXML     = "xml"
	TypeEmail   = "email"
	TypeWebhook = "webhook"
	TypeS3      = "s3"
	TypeKafka   = "kafka"
)

// DefaultFactories maps every handler type to its constructor.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		TypeCSV:     NewCSVHandler,
		TypeXLSX:    NewXLSXHandler,
		TypeJSON:    NewJSONHandler,
		TypeXML:     NewXMLHandler,
		TypeEmail:   NewEmailHandler,
		TypeWebhook: NewWebhookHandler,
		TypeS3:      NewS3Handler,
		TypeKafka:   NewKafkaHandler,
	}
}

type entry struct {
	name    string
	kind    string
	handler Handler
}

// Dispatcher fans a batch out to every enabled handler. One handler's
// failure never affects the others.
type Dispatcher struct {
	entries     []entry
	factories   map[string]Factory
	concurrency int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFactory overrides the constructor for a handler type.
func WithFactory(kind string, f Factory) DispatcherOption {
	return func(d *Dispatcher) { d.factories[kind] = f }
}

// WithDispatchConcurrency bounds how many handlers run at once.
func WithDispatchConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDispatcher builds handlers for the enabled configs. Any unknown type
// or invalid option set fails construction.
func NewDispatcher(configs []config.HandlerConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{factories: DefaultFactories(), concurrency: 4}
	for _, opt := range opts {
		opt(d)
	}
	for i, cfg := range configs {
		if !cfg.IsEnabled() {
			continue
		}
		factory, ok := d.factories[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("%w: handler %d has unknown type %q", apperr.ErrConfig, i, cfg.Type)
		}
		h, err := factory(cfg.Options)
		if err != nil {
			return nil, fmt.Errorf("handler %q: %w", cfg.DisplayName(), err)
		}
		d.entries = append(d.entries, entry{name: cfg.DisplayName(), kind: cfg.Type, handler: h})
	}
	return d, nil
}

// Len returns the number of active handlers.
func (d *Dispatcher) Len() int {
	return len(d.entries)
}

// Close releases handlers that hold connections.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, e := range d.entries {
		if c, ok := e.handler.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", e.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Dispatch delivers the batch to every handler and returns one result per
// handler in configuration order. An empty batch succeeds without writing.
func (d *Dispatcher) Dispatch(ctx context.Context, batch Batch) []domain.PostbackResult {
	log := logger.FromContext(ctx)
	if batch.Time.IsZero() {
		batch.Time = time.Now()
	}
	if batch.Columns == nil {
		batch.Columns = domain.Columns(batch.Rows)
	}

	results := make([]domain.PostbackResult, len(d.entries))
	if len(batch.Rows) == 0 {
		log.Warn("no rows to post back")
		for i, e := range d.entries {
			results[i] = domain.PostbackResult{Handler: e.name, Type: e.kind, Success: true}
		}
		return results
	}

	var eg errgroup.Group
	eg.SetLimit(d.concurrency)
	for i, e := range d.entries {
		eg.Go(func() error {
			results[i] = d.run(ctx, e, batch)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func (d *Dispatcher) run(ctx context.Context, e entry, batch Batch) (res domain.PostbackResult) {
	log := logger.FromContext(ctx).With("handler", e.name, "type", e.kind)
	start := time.Now()
	res = domain.PostbackResult{Handler: e.name, Type: e.kind, Rows: len(batch.Rows)}

	defer func() {
		if r := recover(); r != nil {
			log.Error("postback handler panicked", "panic", r, "stack", string(debug.Stack()))
			res.Success = false
			res.Error = fmt.Sprintf("%v: handler panicked: %v", apperr.ErrPostback, r)
		}
		res.Duration = time.Since(start)
	}()

	artifact, err := e.handler.Deliver(ctx, batch)
	if err != nil {
		log.Error("postback failed", "error", err)
		res.Error = err.Error()
		return res
	}
	log.Info("postback delivered", "rows", len(batch.Rows), "artifact", artifact)
	res.Success = true
	res.Artifact = artifact
	return res
}
