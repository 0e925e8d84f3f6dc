package multi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

type recordingSink struct {
	records  []crawler.ProductRecord
	writeErr error
	closeErr error
	closed   bool
}

func (r *recordingSink) Write(_ context.Context, rec crawler.ProductRecord) error {
	if r.writeErr != nil {
		return r.writeErr
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingSink) Close(context.Context) error {
	r.closed = true
	return r.closeErr
}

func TestSinkFansOut(t *testing.T) {
	t.Parallel()
	metrics.Init()

	a, b := &recordingSink{}, &recordingSink{}
	sink := New(Named{Name: "a", Sink: a}, Named{Name: "nil"}, Named{Name: "b", Sink: b})

	rec := crawler.ProductRecord{Title: "A"}
	require.NoError(t, sink.Write(context.Background(), rec))
	require.Equal(t, []crawler.ProductRecord{rec}, a.records)
	require.Equal(t, []crawler.ProductRecord{rec}, b.records)
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, a.closed && b.closed)
}

func TestSinkJoinsErrors(t *testing.T) {
	t.Parallel()
	metrics.Init()

	boom := errors.New("boom")
	bad := &recordingSink{writeErr: boom, closeErr: boom}
	good := &recordingSink{}
	sink := New(Named{Name: "bad", Sink: bad}, Named{Name: "good", Sink: good})

	err := sink.Write(context.Background(), crawler.ProductRecord{Title: "A"})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "bad")
	require.Len(t, good.records, 1)

	require.ErrorIs(t, sink.Close(context.Background()), boom)
	require.True(t, good.closed)
}
