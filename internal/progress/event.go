// Package progress defines the event structures emitted by the crawl workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StagePageDone      Stage = "PAGE_DONE"
	StageProductDone   Stage = "PRODUCT_DONE"
	StageProductFailed Stage = "PRODUCT_FAILED"
	StageProductSeen   Stage = "PRODUCT_SEEN"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID identifies the crawl run.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Kind is the task kind for page and product events.
	Kind crawler.TaskKind
	// Site scopes page events to a host label.
	Site string
	// URL should not contain credentials.
	URL         string
	Bytes       int64
	StatusClass StatusClass
	// Headless reports whether the page went through the browser.
	Headless bool
	// Dur captures fetch latency or total run time.
	Dur time.Duration
	// Note carries low-volume context such as an error string or a
	// product outcome (admitted, duplicate, skipped).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageDone:
		if e.Site == "" {
			return errors.New("page done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	case StageProductDone, StageProductFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageProductSeen:
		if e.Note == "" {
			return errors.New("product seen requires an outcome note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
