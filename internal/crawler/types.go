package crawler

import (
	"net/http"
	"time"
)

// TaskKind identifies which stage handles a frontier task.
type TaskKind string

// Task kinds flowing through the shared frontier.
const (
	// TaskCategory is a category listing page (discovery).
	TaskCategory TaskKind = "category"
	// TaskProduct is a product detail page (extraction).
	TaskProduct TaskKind = "product"
	// TaskDetect is a seed whose page type is decided after fetching.
	TaskDetect TaskKind = "detect"
)

// Task is a unit of work in the frontier.
type Task struct {
	RunID    string   `json:"run_id"`
	Kind     TaskKind `json:"kind"`
	URL      string   `json:"url"`
	Category string   `json:"category,omitempty"`
	Page     int      `json:"page"`
	Attempt  int      `json:"attempt"`
}

// StoreOffer is one featured store price on a product page.
type StoreOffer struct {
	StoreName string  `json:"store_name,omitempty"`
	StoreURL  string  `json:"store_url"`
	Price     float64 `json:"price"`
}

// ProductRecord is the output unit emitted once per extracted product page.
type ProductRecord struct {
	Title            string       `json:"title"`
	URL              string       `json:"url"`
	NumberOfRatings  int          `json:"number_of_ratings"`
	RatingInPercents *float64     `json:"rating_in_percents,omitempty"`
	LowestPrice      *float64     `json:"lowest_price,omitempty"`
	Currency         string       `json:"currency,omitempty"`
	StorePrices      []StoreOffer `json:"store_prices"`
	CategoryURL      string       `json:"category_url,omitempty"`
	CrawledAt        time.Time    `json:"crawled_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	RunID         string
	URL           string
	Kind          TaskKind
	Headers       http.Header
	RespectRobots bool
	// WaitSelectors are CSS selectors the renderer waits for before reading the DOM.
	WaitSelectors []string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// FailureKind classifies a per-URL failure.
type FailureKind string

// Failure kinds reported in the run summary.
const (
	FailureFetch      FailureKind = "fetch"
	FailureBlocked    FailureKind = "blocked"
	FailureExtraction FailureKind = "extraction"
	FailureSink       FailureKind = "sink"
)

// Failure records why a URL produced no output.
type Failure struct {
	URL         string      `json:"url"`
	Kind        FailureKind `json:"kind"`
	Reason      string      `json:"reason"`
	SnapshotURI string      `json:"snapshot_uri,omitempty"`
}

// Summary reports the outcome of a finished crawl.
type Summary struct {
	RunID              string    `json:"run_id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	CategoryPages      int       `json:"category_pages"`
	ProductsDiscovered int       `json:"products_discovered"`
	ProductsDuplicate  int       `json:"products_duplicate"`
	ProductsSkipped    int       `json:"products_skipped"`
	ProductsSucceeded  int       `json:"products_succeeded"`
	ProductsFailed     int       `json:"products_failed"`
	FetchFailures      int       `json:"fetch_failures"`
	Failures           []Failure `json:"failures,omitempty"`
}

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values tracked by the run registry.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// RunParameters is the input of a crawl run.
type RunParameters struct {
	StartURLs   []string `json:"start_urls"`
	MaxPages    int      `json:"max_pages"`
	MaxProducts int      `json:"max_products"`
}

// Run is the metadata kept for each crawl run.
type Run struct {
	ID         string        `json:"id"`
	Status     RunStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters RunParameters `json:"parameters"`
	Summary    *Summary      `json:"summary,omitempty"`
}
