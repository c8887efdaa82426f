package stats

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddit-sentiment/models"
)

func analyzed(id, subreddit string, score float64, label models.SentimentLabel) models.AnalyzedPost {
	return models.AnalyzedPost{
		Post:      models.Post{ID: id, Text: "post " + id, Subreddit: subreddit},
		Sentiment: models.SentimentResult{Score: score, Label: label, Confidence: 0.9},
	}
}

func TestAggregate(t *testing.T) {
	posts := []models.AnalyzedPost{
		analyzed("1", "stocks", 0.8, models.LabelPositive),
		analyzed("2", "stocks", -0.4, models.LabelNegative),
		analyzed("3", "investing", 0.2, models.LabelPositive),
		analyzed("4", "investing", 0, models.LabelNeutral),
	}

	report := Aggregate("AAPL", posts)

	assert.Equal(t, "AAPL", report.Symbol)
	assert.Equal(t, 4, report.PostCount)
	assert.Equal(t, models.Distribution{Positive: 2, Negative: 1, Neutral: 1}, report.Distribution)
	// mean 0.15 rescaled to [0,1]
	assert.InDelta(t, 0.575, report.OverallScore, 1e-9)
	assert.Equal(t, posts, report.Posts)

	require.Len(t, report.SubredditBreakdown, 2)
	assert.Equal(t, 2, report.SubredditBreakdown["stocks"].PostCount)
	assert.InDelta(t, 0.2, report.SubredditBreakdown["stocks"].AverageScore, 1e-9)
	assert.Equal(t, 2, report.SubredditBreakdown["investing"].PostCount)
	assert.InDelta(t, 0.1, report.SubredditBreakdown["investing"].AverageScore, 1e-9)
}

func TestAggregateDistributionScenario(t *testing.T) {
	labels := []models.SentimentLabel{
		models.LabelPositive, models.LabelPositive, models.LabelPositive,
		models.LabelPositive, models.LabelPositive, models.LabelPositive,
		models.LabelNegative, models.LabelNegative, models.LabelNegative,
		models.LabelNeutral,
	}

	posts := make([]models.AnalyzedPost, 0, len(labels))
	for i, label := range labels {
		subreddit := "stocks"
		if i%2 == 1 {
			subreddit = "wallstreetbets"
		}
		posts = append(posts, analyzed(fmt.Sprint(i), subreddit, 0, label))
	}

	report := Aggregate("AAPL", posts)
	assert.Equal(t, models.Distribution{Positive: 6, Negative: 3, Neutral: 1}, report.Distribution)
	assert.Equal(t, 10, report.PostCount)
}

func TestAggregateZeroCountLabels(t *testing.T) {
	report := Aggregate("GME", []models.AnalyzedPost{
		analyzed("1", "wallstreetbets", 1, models.LabelPositive),
	})

	assert.Equal(t, models.Distribution{Positive: 1, Negative: 0, Neutral: 0}, report.Distribution)
	assert.Equal(t, 1.0, report.OverallScore)
}

func TestAggregateProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	subreddits := []string{"wallstreetbets", "stocks", "investing", "options"}
	labels := []models.SentimentLabel{models.LabelPositive, models.LabelNegative, models.LabelNeutral}

	for run := 0; run < 200; run++ {
		n := rng.Intn(30) + 1
		posts := make([]models.AnalyzedPost, 0, n)
		present := map[string]int{}

		for i := 0; i < n; i++ {
			sr := subreddits[rng.Intn(len(subreddits))]
			present[sr]++
			posts = append(posts, analyzed(
				fmt.Sprint(i),
				sr,
				rng.Float64()*2-1,
				labels[rng.Intn(len(labels))],
			))
		}

		report := Aggregate("TSLA", posts)

		assert.Equal(t, n, report.Distribution.Total())
		assert.Equal(t, n, report.PostCount)
		assert.GreaterOrEqual(t, report.OverallScore, 0.0)
		assert.LessOrEqual(t, report.OverallScore, 1.0)

		require.Len(t, report.SubredditBreakdown, len(present))
		for sr, count := range present {
			assert.Equal(t, count, report.SubredditBreakdown[sr].PostCount)
		}
	}
}

func TestAggregateExtremeScores(t *testing.T) {
	allNegative := Aggregate("X", []models.AnalyzedPost{
		analyzed("1", "stocks", -1, models.LabelNegative),
		analyzed("2", "stocks", -1, models.LabelNegative),
	})
	assert.Equal(t, 0.0, allNegative.OverallScore)

	allPositive := Aggregate("X", []models.AnalyzedPost{
		analyzed("1", "stocks", 1, models.LabelPositive),
	})
	assert.Equal(t, 1.0, allPositive.OverallScore)
}
