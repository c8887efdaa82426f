package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddit-sentiment/api"
	"github.com/brettboylen/reddit-sentiment/models"
)

type fakeSource struct {
	posts    []models.Post
	calls    int32
	mutex    sync.Mutex
	settings models.AnalysisSettings
	symbol   string
}

func (f *fakeSource) FetchPosts(_ context.Context, symbol string, settings models.AnalysisSettings) []models.Post {
	atomic.AddInt32(&f.calls, 1)
	f.mutex.Lock()
	f.settings = settings
	f.symbol = symbol
	f.mutex.Unlock()
	return f.posts
}

type fakeClassifier struct {
	initialized atomic.Bool
	results     map[string]models.SentimentResult
	errs        map[string]error
	delay       func(text string) time.Duration
	gate        chan struct{}
	calls       int32
}

func newFakeClassifier() *fakeClassifier {
	c := &fakeClassifier{
		results: map[string]models.SentimentResult{},
		errs:    map[string]error{},
	}
	c.initialized.Store(true)
	return c
}

func (f *fakeClassifier) Init(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("gemini API key is required")
	}
	f.initialized.Store(true)
	return nil
}

func (f *fakeClassifier) Initialized() bool {
	return f.initialized.Load()
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (models.SentimentResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return models.SentimentResult{}, ctx.Err()
		}
	}
	if f.delay != nil {
		time.Sleep(f.delay(text))
	}
	if err, ok := f.errs[text]; ok {
		return models.SentimentResult{}, err
	}
	if result, ok := f.results[text]; ok {
		return result, nil
	}
	return models.NeutralSentiment(), nil
}

func makePosts(subreddit string, n int, offset int) []models.Post {
	posts := make([]models.Post, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, models.Post{
			ID:        fmt.Sprintf("%s-%d", subreddit, i),
			Text:      fmt.Sprintf("text %s %d", subreddit, i),
			Subreddit: subreddit,
			CreatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Add(-time.Duration(offset+i) * time.Hour),
		})
	}
	return posts
}

func newTestAnalyzer(source PostSource, classifier Classifier) (*Analyzer, *logtest.Hook) {
	log, hook := logtest.NewNullLogger()
	settings := NewSettingsStore([]string{"stocks", "wallstreetbets"}, 30*24*time.Hour, log)
	return NewAnalyzer(source, classifier, settings, 4, log), hook
}

func TestSearchNotInitialized(t *testing.T) {
	source := &fakeSource{posts: makePosts("stocks", 3, 0)}
	classifier := newFakeClassifier()
	classifier.initialized.Store(false)
	analyzer, _ := newTestAnalyzer(source, classifier)

	report, err := analyzer.Search(context.Background(), "AAPL")
	assert.Nil(t, report)
	assert.ErrorIs(t, err, api.ErrNotInitialized)
	assert.Equal(t, int32(0), atomic.LoadInt32(&source.calls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&classifier.calls))

	status := analyzer.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, StateFailed, status.LastOutcome)
	assert.False(t, status.Loading)
	assert.False(t, status.Initialized)
	assert.Equal(t, api.ErrNotInitialized.Error(), status.Message)
}

func TestSearchAfterInitialize(t *testing.T) {
	source := &fakeSource{posts: makePosts("stocks", 1, 0)}
	classifier := newFakeClassifier()
	classifier.initialized.Store(false)
	analyzer, _ := newTestAnalyzer(source, classifier)

	assert.Error(t, analyzer.Initialize(""))
	require.NoError(t, analyzer.Initialize("key"))
	assert.True(t, analyzer.Status().Initialized)

	_, err := analyzer.Search(context.Background(), "AAPL")
	assert.NoError(t, err)
}

func TestSearchNoPosts(t *testing.T) {
	source := &fakeSource{}
	classifier := newFakeClassifier()
	analyzer, _ := newTestAnalyzer(source, classifier)

	report, err := analyzer.Search(context.Background(), "ZZZZ")
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrNoPosts)
	assert.Equal(t, int32(0), atomic.LoadInt32(&classifier.calls))
	assert.Nil(t, analyzer.GetReport())

	status := analyzer.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, StateEmpty, status.LastOutcome)
	assert.False(t, status.Loading)
	assert.Contains(t, status.Message, "ZZZZ")
}

func TestSearchAggregatesInFetchOrder(t *testing.T) {
	posts := append(makePosts("stocks", 5, 0), makePosts("wallstreetbets", 5, 5)...)
	source := &fakeSource{posts: posts}

	classifier := newFakeClassifier()
	labels := []models.SentimentLabel{
		models.LabelPositive, models.LabelPositive, models.LabelNegative, models.LabelPositive, models.LabelNeutral,
		models.LabelPositive, models.LabelNegative, models.LabelPositive, models.LabelNegative, models.LabelPositive,
	}
	scores := map[models.SentimentLabel]float64{
		models.LabelPositive: 0.5,
		models.LabelNegative: -0.5,
		models.LabelNeutral:  0,
	}
	for i, p := range posts {
		classifier.results[p.Text] = models.SentimentResult{Score: scores[labels[i]], Label: labels[i], Confidence: 0.8}
	}
	// earlier posts finish last
	classifier.delay = func(text string) time.Duration {
		for i, p := range posts {
			if p.Text == text {
				return time.Duration(len(posts)-i) * time.Millisecond
			}
		}
		return 0
	}

	analyzer, _ := newTestAnalyzer(source, classifier)

	report, err := analyzer.Search(context.Background(), " aapl ")
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, "AAPL", report.Symbol)
	assert.Equal(t, "AAPL", source.symbol)
	assert.Equal(t, 10, report.PostCount)
	assert.Equal(t, models.Distribution{Positive: 6, Negative: 3, Neutral: 1}, report.Distribution)
	assert.NotEmpty(t, report.SearchID)
	assert.InDelta(t, (0.15+1)/2, report.OverallScore, 1e-9)

	require.Len(t, report.Posts, len(posts))
	for i, p := range report.Posts {
		assert.Equal(t, posts[i].ID, p.ID)
		assert.Equal(t, labels[i], p.Sentiment.Label)
	}

	assert.Equal(t, 5, report.SubredditBreakdown["stocks"].PostCount)
	assert.Equal(t, 5, report.SubredditBreakdown["wallstreetbets"].PostCount)

	assert.Same(t, report, analyzer.GetReport())
	status := analyzer.Status()
	assert.Equal(t, StateAggregated, status.LastOutcome)
	assert.Equal(t, "Analyzed 10 posts about AAPL", status.Message)
	assert.Equal(t, report.SearchID, status.SearchID)
}

func TestSearchPassesSettings(t *testing.T) {
	source := &fakeSource{posts: makePosts("stocks", 1, 0)}
	analyzer, _ := newTestAnalyzer(source, newFakeClassifier())

	_, err := analyzer.Settings().AddSubreddit("options")
	require.NoError(t, err)

	_, err = analyzer.Search(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"stocks", "wallstreetbets", "options"}, source.settings.Subreddits)
}

func TestSearchQuotaExceeded(t *testing.T) {
	posts := makePosts("stocks", 6, 0)
	source := &fakeSource{posts: posts}
	classifier := newFakeClassifier()
	classifier.errs[posts[3].Text] = api.ErrQuotaExceeded

	analyzer, _ := newTestAnalyzer(source, classifier)

	report, err := analyzer.Search(context.Background(), "AAPL")
	assert.Nil(t, report)
	assert.ErrorIs(t, err, api.ErrQuotaExceeded)
	assert.Nil(t, analyzer.GetReport())

	status := analyzer.Status()
	assert.Equal(t, StateFailed, status.LastOutcome)
	assert.Equal(t, api.ErrQuotaExceeded.Error(), status.Message)
	assert.False(t, status.Loading)
}

func TestSearchQuotaKeepsPreviousReport(t *testing.T) {
	posts := makePosts("stocks", 2, 0)
	source := &fakeSource{posts: posts}
	classifier := newFakeClassifier()
	analyzer, _ := newTestAnalyzer(source, classifier)

	first, err := analyzer.Search(context.Background(), "AAPL")
	require.NoError(t, err)

	classifier.errs[posts[0].Text] = api.ErrQuotaExceeded
	_, err = analyzer.Search(context.Background(), "MSFT")
	require.ErrorIs(t, err, api.ErrQuotaExceeded)

	assert.Same(t, first, analyzer.GetReport())
	assert.Equal(t, uint64(2), analyzer.Status().Sequence)
}

func TestSearchRejectsReentrantCalls(t *testing.T) {
	source := &fakeSource{posts: makePosts("stocks", 3, 0)}
	classifier := newFakeClassifier()
	classifier.gate = make(chan struct{})
	analyzer, _ := newTestAnalyzer(source, classifier)

	done := make(chan error, 1)
	go func() {
		_, err := analyzer.Search(context.Background(), "AAPL")
		done <- err
	}()

	assert.Eventually(t, func() bool {
		status := analyzer.Status()
		return status.Loading && status.State == StateClassifying
	}, time.Second, 5*time.Millisecond)

	_, err := analyzer.Search(context.Background(), "TSLA")
	assert.ErrorIs(t, err, ErrSearchInProgress)

	close(classifier.gate)
	require.NoError(t, <-done)

	status := analyzer.Status()
	assert.False(t, status.Loading)
	assert.Equal(t, "AAPL", status.Symbol)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
}

func TestSearchRequiresSymbol(t *testing.T) {
	analyzer, _ := newTestAnalyzer(&fakeSource{}, newFakeClassifier())

	_, err := analyzer.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNoSymbol)
	assert.Equal(t, uint64(0), analyzer.Status().Sequence)
}

func TestFinishDiscardsStaleResult(t *testing.T) {
	analyzer, hook := newTestAnalyzer(&fakeSource{}, newFakeClassifier())
	analyzer.sequence = 5

	analyzer.finish(4, StateAggregated, "stale", &models.AnalysisReport{Symbol: "OLD"})

	assert.Nil(t, analyzer.GetReport())
	assert.NotEqual(t, "stale", analyzer.Status().Message)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Discarding stale search result", hook.LastEntry().Message)
}
