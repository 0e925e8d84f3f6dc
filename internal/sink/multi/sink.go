// Package multi fans product records out to several sinks.
package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Named pairs a sink with the label used in metrics and errors.
type Named struct {
	Name string
	Sink crawler.RecordSink
}

// Sink writes every record to all children. A record counts as written
// only when every child accepted it.
type Sink struct {
	sinks []Named
}

// New returns a fan-out sink. Nil children are skipped.
func New(sinks ...Named) *Sink {
	out := make([]Named, 0, len(sinks))
	for _, s := range sinks {
		if s.Sink != nil {
			out = append(out, s)
		}
	}
	return &Sink{sinks: out}
}

// Write forwards record to every child and joins their errors.
func (m *Sink) Write(ctx context.Context, record crawler.ProductRecord) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.Sink.Write(ctx, record)
		metrics.ObserveRecordWrite(s.Name, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every child, even after a failure.
func (m *Sink) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
