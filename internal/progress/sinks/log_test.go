package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "run-1", TS: time.Now(), Stage: progress.StagePageDone, Site: "heureka.cz", StatusClass: progress.Status2xx, Bytes: 10},
		{RunID: "run-1", TS: time.Now(), Stage: progress.StageProductFailed, URL: "https://a.heureka.cz/p/", Note: "no title"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "heureka.cz", entries[0].ContextMap()["site"])
	require.Equal(t, "no title", entries[1].ContextMap()["note"])
	require.NotContains(t, entries[1].ContextMap(), "site")
}
