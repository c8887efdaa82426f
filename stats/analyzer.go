package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brettboylen/reddit-sentiment/api"
	"github.com/brettboylen/reddit-sentiment/models"
)

var (
	// ErrSearchInProgress is returned when a search is submitted while another is loading
	ErrSearchInProgress = errors.New("a search is already in progress")

	// ErrNoPosts marks a search that found nothing to analyze; it is not a failure
	ErrNoPosts  = errors.New("no posts found")
	ErrNoSymbol = errors.New("stock symbol is required")
)

// State is a phase of the search pipeline
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateClassifying State = "classifying"
	StateAggregated  State = "aggregated"
	StateEmpty       State = "empty"
	StateFailed      State = "failed"
)

// PostSource fetches the posts to analyze for a symbol
type PostSource interface {
	FetchPosts(ctx context.Context, symbol string, settings models.AnalysisSettings) []models.Post
}

// Classifier scores the sentiment of a single post
type Classifier interface {
	Init(apiKey string) error
	Initialized() bool
	Classify(ctx context.Context, text string) (models.SentimentResult, error)
}

// Status is what the dashboard polls while a search runs
type Status struct {
	State       State  `json:"state"`
	Loading     bool   `json:"loading"`
	LastOutcome State  `json:"last_outcome,omitempty"`
	Message     string `json:"message,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	SearchID    string `json:"search_id,omitempty"`
	Sequence    uint64 `json:"sequence"`
	Initialized bool   `json:"initialized"`
}

// Analyzer runs searches: fetch posts, classify each one, aggregate the results
type Analyzer struct {
	source         PostSource
	classifier     Classifier
	settings       *SettingsStore
	maxConcurrency int
	log            *logrus.Logger

	mutex    sync.RWMutex
	status   Status
	report   *models.AnalysisReport
	sequence uint64
}

// NewAnalyzer creates a new analyzer. maxConcurrency bounds in-flight
// classification calls; zero means one call per post.
func NewAnalyzer(
	source PostSource,
	classifier Classifier,
	settings *SettingsStore,
	maxConcurrency int,
	log *logrus.Logger,
) *Analyzer {
	return &Analyzer{
		source:         source,
		classifier:     classifier,
		settings:       settings,
		maxConcurrency: maxConcurrency,
		log:            log,
		status:         Status{State: StateIdle},
	}
}

// Settings returns the session settings used by every search
func (a *Analyzer) Settings() *SettingsStore {
	return a.settings
}

// Initialize supplies the sentiment API key
func (a *Analyzer) Initialize(apiKey string) error {
	if err := a.classifier.Init(apiKey); err != nil {
		a.log.WithError(err).Error("Failed to initialize sentiment API")
		return err
	}
	return nil
}

// Search analyzes recent posts about symbol and stores the report. It returns
// ErrSearchInProgress while another search is loading, api.ErrNotInitialized
// before Initialize, ErrNoPosts when nothing matched and api.ErrQuotaExceeded
// when the sentiment API kept rate limiting.
func (a *Analyzer) Search(ctx context.Context, symbol string) (*models.AnalysisReport, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, ErrNoSymbol
	}

	a.mutex.Lock()
	if a.status.Loading {
		a.mutex.Unlock()
		return nil, ErrSearchInProgress
	}
	a.sequence++
	seq := a.sequence
	searchID := uuid.NewString()

	if !a.classifier.Initialized() {
		a.status = Status{
			State:       StateIdle,
			LastOutcome: StateFailed,
			Message:     api.ErrNotInitialized.Error(),
			Symbol:      symbol,
			SearchID:    searchID,
			Sequence:    seq,
		}
		a.mutex.Unlock()
		a.log.WithField("symbol", symbol).Warn("Search rejected, sentiment API not initialized")
		return nil, api.ErrNotInitialized
	}

	a.status = Status{
		State:    StateFetching,
		Loading:  true,
		Symbol:   symbol,
		SearchID: searchID,
		Sequence: seq,
	}
	a.mutex.Unlock()

	log := a.log.WithFields(logrus.Fields{
		"symbol":    symbol,
		"search_id": searchID,
	})
	log.Info("Search started")

	posts := a.source.FetchPosts(ctx, symbol, a.settings.Current())
	if len(posts) == 0 {
		err := fmt.Errorf("%w: couldn't find any recent posts about %s, try another symbol or adjust your search settings", ErrNoPosts, symbol)
		a.finish(seq, StateEmpty, err.Error(), nil)
		log.Info("No posts found")
		return nil, err
	}

	a.setState(seq, StateClassifying)
	log.WithField("post_count", len(posts)).Info("Classifying posts")

	analyzed, err := a.classifyAll(ctx, posts)
	if err != nil {
		a.finish(seq, StateFailed, err.Error(), nil)
		log.WithError(err).Error("Search failed")
		return nil, err
	}

	report := Aggregate(symbol, analyzed)
	report.SearchID = searchID
	report.GeneratedAt = time.Now()

	message := fmt.Sprintf("Analyzed %d posts about %s", report.PostCount, symbol)
	a.finish(seq, StateAggregated, message, &report)

	log.WithFields(logrus.Fields{
		"post_count":    report.PostCount,
		"overall_score": report.OverallScore,
		"positive":      report.Distribution.Positive,
		"negative":      report.Distribution.Negative,
		"neutral":       report.Distribution.Neutral,
	}).Info("Search complete")

	return &report, nil
}

// classifyAll classifies every post concurrently. Results keep the fetch order.
// The first hard failure (quota, not initialized) cancels the remaining calls and
// discards the whole batch.
func (a *Analyzer) classifyAll(ctx context.Context, posts []models.Post) ([]models.AnalyzedPost, error) {
	g, gctx := errgroup.WithContext(ctx)
	if a.maxConcurrency > 0 {
		g.SetLimit(a.maxConcurrency)
	}

	results := make([]models.AnalyzedPost, len(posts))
	for i, post := range posts {
		i, post := i, post // per-iteration copy (go directive lowered to 1.21)
		g.Go(func() error {
			sentiment, err := a.classifier.Classify(gctx, post.Text)
			if err != nil {
				a.log.WithError(err).WithField("post_id", post.ID).Debug("Classification aborted")
				return err
			}
			results[i] = models.AnalyzedPost{Post: post, Sentiment: sentiment}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Analyzer) setState(seq uint64, state State) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if seq == a.sequence {
		a.status.State = state
	}
}

// finish ends a search. Results of a search that is no longer the latest are dropped.
func (a *Analyzer) finish(seq uint64, outcome State, message string, report *models.AnalysisReport) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if seq != a.sequence {
		a.log.WithFields(logrus.Fields{
			"sequence": seq,
			"latest":   a.sequence,
		}).Warn("Discarding stale search result")
		return
	}

	if report != nil {
		a.report = report
	}
	a.status.State = StateIdle
	a.status.Loading = false
	a.status.LastOutcome = outcome
	a.status.Message = message
}

// GetReport returns the latest report, or nil before the first successful search.
// Reports are never modified after they are stored.
func (a *Analyzer) GetReport() *models.AnalysisReport {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.report
}

// Status returns a copy of the current search status
func (a *Analyzer) Status() Status {
	a.mutex.RLock()
	status := a.status
	a.mutex.RUnlock()

	status.Initialized = a.classifier.Initialized()
	return status
}
