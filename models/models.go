package models

import (
	"time"
)

// SentimentLabel is the coarse polarity of a post
type SentimentLabel string

const (
	LabelPositive SentimentLabel = "positive"
	LabelNegative SentimentLabel = "negative"
	LabelNeutral  SentimentLabel = "neutral"
)

// Valid reports whether the label is one of the three known labels
func (l SentimentLabel) Valid() bool {
	switch l {
	case LabelPositive, LabelNegative, LabelNeutral:
		return true
	}
	return false
}

// Post represents a Reddit post matching a ticker search
type Post struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Author      string    `json:"author"`
	Subreddit   string    `json:"subreddit"`
	Permalink   string    `json:"permalink,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
}

// SentimentResult is the classification of a single post
type SentimentResult struct {
	Score      float64        `json:"score"`
	Label      SentimentLabel `json:"label"`
	Confidence float64        `json:"confidence"`
}

// NeutralSentiment is substituted whenever a classification cannot be used
func NeutralSentiment() SentimentResult {
	return SentimentResult{Score: 0, Label: LabelNeutral, Confidence: 0}
}

// AnalyzedPost is a post with its sentiment attached
type AnalyzedPost struct {
	Post
	Sentiment SentimentResult `json:"sentiment"`
}

// AnalysisSettings holds the user-adjustable search window and subreddits
type AnalysisSettings struct {
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Subreddits []string  `json:"subreddits"`
}

// Distribution counts posts per sentiment label
type Distribution struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Total returns the sum of all label counts
func (d Distribution) Total() int {
	return d.Positive + d.Negative + d.Neutral
}

// SubredditStats holds sentiment statistics for a single subreddit
type SubredditStats struct {
	PostCount    int     `json:"post_count"`
	AverageScore float64 `json:"average_score"`
}

// AnalysisReport is the result of one search
type AnalysisReport struct {
	SearchID           string                    `json:"search_id"`
	Symbol             string                    `json:"symbol"`
	OverallScore       float64                   `json:"overall_score"`
	PostCount          int                       `json:"post_count"`
	Distribution       Distribution              `json:"distribution"`
	Posts              []AnalyzedPost            `json:"posts"`
	SubredditBreakdown map[string]SubredditStats `json:"subreddit_breakdown"`
	GeneratedAt        time.Time                 `json:"generated_at"`
}
