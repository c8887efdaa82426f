package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/brettboylen/reddit-sentiment/models"
)

const (
	publicBaseURL   = "https://www.reddit.com"
	oauthBaseURL    = "https://oauth.reddit.com"
	authURL         = "https://www.reddit.com/api/v1/access_token"
	defaultLimit    = 100 // max number of posts per request
	defaultMaxPosts = 30
	requestTimeout  = 30 * time.Second
)

// RedditConfig configures a RedditAPI client
type RedditConfig struct {
	ClientID             string
	ClientSecret         string
	UserAgent            string
	BaseURL              string // overrides the public/oauth host when set
	MaxRequestsPerMinute int
	SearchLimit          int // posts requested per subreddit
	MaxPosts             int // posts kept after filtering
}

// RedditAPI represents a Reddit search client
type RedditAPI struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	baseRate    rate.Limit
	searchLimit int
	maxPosts    int
	log         *logrus.Logger
	now         func() time.Time

	rateHeadersMutex    sync.RWMutex
	rateRemainingCached float64
	rateResetCached     float64
	rateUsedCached      float64
}

// RedditPost represents the Reddit API response structure for a post
type RedditPost struct {
	Kind string `json:"kind"`
	Data struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		SelfText    string  `json:"selftext"`
		Author      string  `json:"author"`
		Subreddit   string  `json:"subreddit"`
		CreatedUTC  float64 `json:"created_utc"`
		Score       int     `json:"score"`
		NumComments int     `json:"num_comments"`
		Permalink   string  `json:"permalink"`
	} `json:"data"`
}

// RedditResponse represents the Reddit API listing structure
type RedditResponse struct {
	Kind string `json:"kind"`
	Data *struct {
		After    string       `json:"after"`
		Children []RedditPost `json:"children"`
	} `json:"data"`
}

// userAgentTransport sets the User-Agent Reddit requires on every request,
// including the client-credentials token exchange
type userAgentTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// NewRedditAPI creates a new Reddit API client. With both client credentials set the
// client authenticates app-only against the oauth host; otherwise it uses the public
// JSON endpoints.
func NewRedditAPI(cfg RedditConfig, log *logrus.Logger) *RedditAPI {
	// default to 100 requests per minute (real Reddit limit)
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 100
	}
	if cfg.SearchLimit <= 0 || cfg.SearchLimit > defaultLimit {
		cfg.SearchLimit = defaultLimit
	}
	if cfg.MaxPosts <= 0 {
		cfg.MaxPosts = defaultMaxPosts
	}

	base := &http.Client{
		Timeout:   requestTimeout,
		Transport: &userAgentTransport{userAgent: cfg.UserAgent, base: http.DefaultTransport},
	}

	httpClient := base
	baseURL := publicBaseURL
	authenticated := cfg.ClientID != "" && cfg.ClientSecret != ""
	if authenticated {
		oauthConf := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     authURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauthConf.Client(ctx)
		httpClient.Timeout = requestTimeout
		baseURL = oauthBaseURL
	}
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	// use 95% of the allowance to stay clear of the hard limit
	perSecond := float64(cfg.MaxRequestsPerMinute) / 60.0 * 0.95

	log.WithFields(logrus.Fields{
		"base_url":      baseURL,
		"authenticated": authenticated,
		"rate_per_sec":  perSecond,
	}).Debug("Reddit API client configured")

	return &RedditAPI{
		baseURL:         baseURL,
		httpClient:      httpClient,
		limiter:         rate.NewLimiter(rate.Limit(perSecond), 1),
		baseRate:        rate.Limit(perSecond),
		searchLimit:     cfg.SearchLimit,
		maxPosts:        cfg.MaxPosts,
		log:             log,
		now:             time.Now,
		rateResetCached: 600,
	}
}

// GetRateLimitStatus returns the last seen rate limit headers (remaining requests, reset time in seconds, and used requests)
func (r *RedditAPI) GetRateLimitStatus() (float64, float64, float64) {
	r.rateHeadersMutex.RLock()
	defer r.rateHeadersMutex.RUnlock()
	return r.rateRemainingCached, r.rateResetCached, r.rateUsedCached
}

// SearchSubreddit searches a single subreddit for the query, newest first. Posts are
// attributed to the subreddit name as configured, not as Reddit capitalizes it.
func (r *RedditAPI) SearchSubreddit(ctx context.Context, subreddit, query, timeFilter string) ([]models.Post, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("restrict_sr", "on")
	params.Set("sort", "new")
	params.Set("limit", strconv.Itoa(r.searchLimit))
	params.Set("raw_json", "1")
	if timeFilter != "" {
		params.Set("t", timeFilter)
	}
	endpoint := fmt.Sprintf("%s/r/%s/search.json?%s", r.baseURL, url.PathEscape(subreddit), params.Encode())

	r.log.WithFields(logrus.Fields{
		"subreddit": subreddit,
		"query":     query,
		"t":         timeFilter,
	}).Debug("Searching subreddit")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	r.updateRateLimits(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		r.log.WithFields(logrus.Fields{
			"subreddit":     subreddit,
			"response_body": string(body),
			"status_code":   resp.StatusCode,
		}).Error("Reddit API error response")
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var redditResp RedditResponse
	if err := json.NewDecoder(resp.Body).Decode(&redditResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// a listing without data is treated as no results
	if redditResp.Data == nil {
		return []models.Post{}, nil
	}

	posts := make([]models.Post, 0, len(redditResp.Data.Children))
	for _, child := range redditResp.Data.Children {
		posts = append(posts, toPost(child, subreddit))
	}

	r.log.WithFields(logrus.Fields{
		"post_count": len(posts),
		"subreddit":  subreddit,
	}).Debug("Fetched search results from Reddit")

	return posts, nil
}

func toPost(child RedditPost, subreddit string) models.Post {
	text := child.Data.Title
	if child.Data.SelfText != "" {
		text += " " + child.Data.SelfText
	}

	sec := int64(child.Data.CreatedUTC)
	nsec := int64((child.Data.CreatedUTC - float64(sec)) * float64(time.Second))

	return models.Post{
		ID:          child.Data.ID,
		Text:        text,
		Author:      child.Data.Author,
		Subreddit:   subreddit,
		Permalink:   child.Data.Permalink,
		CreatedAt:   time.Unix(sec, nsec).UTC(),
		Score:       child.Data.Score,
		NumComments: child.Data.NumComments,
	}
}

// updateRateLimits records the rate limit headers and slows the limiter down when
// the remaining allowance cannot sustain the configured rate until the window resets
func (r *RedditAPI) updateRateLimits(resp *http.Response) {
	// X-Ratelimit-Used: Approximate number of requests used in this period
	// X-Ratelimit-Remaining: Approximate number of requests left to use
	// X-Ratelimit-Reset: Approximate number of seconds to end of period
	used := getHeaderAsFloat(resp.Header, "X-Ratelimit-Used")
	remaining := getHeaderAsFloat(resp.Header, "X-Ratelimit-Remaining")
	reset := getHeaderAsFloat(resp.Header, "X-Ratelimit-Reset")

	// public endpoints don't send them
	if reset == 0 && used == 0 {
		return
	}

	r.rateHeadersMutex.Lock()
	r.rateRemainingCached = remaining
	r.rateResetCached = reset
	r.rateUsedCached = used
	r.rateHeadersMutex.Unlock()

	limit := r.baseRate
	if reset > 0 {
		// never drop to zero, that would drain the burst and stall every later search
		if sustainable := rate.Limit(math.Max(remaining, 1) / reset); sustainable < limit {
			limit = sustainable
		}
	}
	r.limiter.SetLimit(limit)

	r.log.WithFields(logrus.Fields{
		"used":      used,
		"remaining": remaining,
		"reset_sec": reset,
		"fill_rate": float64(r.limiter.Limit()),
	}).Debug("Updated rate limiter based on Reddit headers")
}

func getHeaderAsFloat(header http.Header, name string) float64 {
	value := header.Get(name)
	if value == "" {
		return 0
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}

	return floatValue
}
