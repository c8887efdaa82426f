package stats

import (
	"github.com/brettboylen/reddit-sentiment/models"
)

// Aggregate reduces analyzed posts into a report. It must only be called with at
// least one post; an empty search is reported upstream as ErrNoPosts.
func Aggregate(symbol string, posts []models.AnalyzedPost) models.AnalysisReport {
	var distribution models.Distribution
	var total float64

	type group struct {
		count int
		sum   float64
	}
	groups := make(map[string]*group)

	for _, post := range posts {
		score := post.Sentiment.Score
		total += score

		switch post.Sentiment.Label {
		case models.LabelPositive:
			distribution.Positive++
		case models.LabelNegative:
			distribution.Negative++
		default:
			distribution.Neutral++
		}

		g, ok := groups[post.Subreddit]
		if !ok {
			g = &group{}
			groups[post.Subreddit] = g
		}
		g.count++
		g.sum += score
	}

	breakdown := make(map[string]models.SubredditStats, len(groups))
	for subreddit, g := range groups {
		breakdown[subreddit] = models.SubredditStats{
			PostCount:    g.count,
			AverageScore: g.sum / float64(g.count),
		}
	}

	// raw scores are in [-1,1], the dashboard shows [0,1]
	mean := total / float64(len(posts))

	return models.AnalysisReport{
		Symbol:             symbol,
		OverallScore:       (mean + 1) / 2,
		PostCount:          len(posts),
		Distribution:       distribution,
		Posts:              posts,
		SubredditBreakdown: breakdown,
	}
}
