package api

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-sentiment/models"
)

// FetchPosts searches every configured subreddit for the symbol concurrently and
// returns the newest posts inside the settings date window. A subreddit that fails
// contributes nothing; if all of them fail the result is empty, never an error.
func (r *RedditAPI) FetchPosts(ctx context.Context, symbol string, settings models.AnalysisSettings) []models.Post {
	timeFilter := timeFilterFor(settings.StartDate, r.now())

	r.log.WithFields(logrus.Fields{
		"symbol":     symbol,
		"subreddits": settings.Subreddits,
		"t":          timeFilter,
	}).Info("Fetching posts from all subreddits")

	// results are indexed by subreddit so the merge order doesn't depend on completion order
	results := make([][]models.Post, len(settings.Subreddits))
	var wg sync.WaitGroup

	for i, subreddit := range settings.Subreddits {
		wg.Add(1)
		go func(i int, sr string) {
			defer wg.Done()

			posts, err := r.SearchSubreddit(ctx, sr, symbol, timeFilter)
			if err != nil {
				r.log.WithError(err).WithField("subreddit", sr).Error("Failed to fetch posts for subreddit")
				return
			}
			results[i] = posts
		}(i, subreddit)
	}

	wg.Wait()

	var merged []models.Post
	for _, posts := range results {
		merged = append(merged, posts...)
	}

	filtered := filterPosts(merged, settings.StartDate, settings.EndDate, r.maxPosts)

	r.log.WithFields(logrus.Fields{
		"symbol":  symbol,
		"fetched": len(merged),
		"kept":    len(filtered),
	}).Info("Fetched posts for symbol")

	return filtered
}

// filterPosts drops duplicate ids and empty posts, keeps posts created within
// [start, end], sorts them newest first and truncates to limit
func filterPosts(posts []models.Post, start, end time.Time, limit int) []models.Post {
	seen := make(map[string]struct{}, len(posts))
	kept := make([]models.Post, 0, len(posts))

	for _, post := range posts {
		if _, dup := seen[post.ID]; dup {
			continue
		}
		seen[post.ID] = struct{}{}

		if strings.TrimSpace(post.Text) == "" {
			continue
		}
		if post.CreatedAt.Before(start) || post.CreatedAt.After(end) {
			continue
		}
		kept = append(kept, post)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt.After(kept[j].CreatedAt)
	})

	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// timeFilterFor picks the narrowest Reddit search window that still reaches back to start
func timeFilterFor(start, now time.Time) string {
	age := now.Sub(start)
	switch {
	case age <= time.Hour:
		return "hour"
	case age <= 24*time.Hour:
		return "day"
	case age <= 7*24*time.Hour:
		return "week"
	case age <= 31*24*time.Hour:
		return "month"
	case age <= 366*24*time.Hour:
		return "year"
	default:
		return "all"
	}
}
