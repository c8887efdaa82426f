package stats

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-sentiment/models"
)

var (
	ErrInvalidDateRange   = errors.New("end date must not be before start date")
	ErrEmptySubreddit     = errors.New("subreddit name is required")
	ErrDuplicateSubreddit = errors.New("subreddit already added")
	ErrUnknownSubreddit   = errors.New("subreddit not configured")
	ErrLastSubreddit      = errors.New("at least one subreddit is required")
)

// SettingsStore holds the analysis settings for the running session. Until a date
// range is set explicitly the window rolls: it always ends now and reaches back
// by the configured lookback.
type SettingsStore struct {
	defaults []string
	lookback time.Duration
	now      func() time.Time
	log      *logrus.Logger

	mutex      sync.RWMutex
	subreddits []string
	startDate  time.Time
	endDate    time.Time
	fixedRange bool
}

// NewSettingsStore creates a settings store with the preset subreddits
func NewSettingsStore(subreddits []string, lookback time.Duration, log *logrus.Logger) *SettingsStore {
	defaults := make([]string, len(subreddits))
	copy(defaults, subreddits)

	return &SettingsStore{
		defaults:   defaults,
		lookback:   lookback,
		now:        time.Now,
		log:        log,
		subreddits: append([]string(nil), defaults...),
	}
}

// Current returns a snapshot of the settings
func (s *SettingsStore) Current() models.AnalysisSettings {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.snapshot()
}

func (s *SettingsStore) snapshot() models.AnalysisSettings {
	settings := models.AnalysisSettings{
		StartDate:  s.startDate,
		EndDate:    s.endDate,
		Subreddits: append([]string(nil), s.subreddits...),
	}
	if !s.fixedRange {
		now := s.now()
		settings.StartDate = now.Add(-s.lookback)
		settings.EndDate = now
	}
	return settings
}

// AddSubreddit adds a subreddit. Names are case-sensitive; duplicates are rejected.
func (s *SettingsStore) AddSubreddit(name string) (models.AnalysisSettings, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.AnalysisSettings{}, ErrEmptySubreddit
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, existing := range s.subreddits {
		if existing == name {
			return models.AnalysisSettings{}, fmt.Errorf("%w: %s", ErrDuplicateSubreddit, name)
		}
	}
	s.subreddits = append(s.subreddits, name)

	s.log.WithField("subreddit", name).Info("Subreddit added")
	return s.snapshot(), nil
}

// RemoveSubreddit removes a subreddit; the last one cannot be removed
func (s *SettingsStore) RemoveSubreddit(name string) (models.AnalysisSettings, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	idx := -1
	for i, existing := range s.subreddits {
		if existing == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.AnalysisSettings{}, fmt.Errorf("%w: %s", ErrUnknownSubreddit, name)
	}
	if len(s.subreddits) == 1 {
		return models.AnalysisSettings{}, ErrLastSubreddit
	}

	updated := make([]string, 0, len(s.subreddits)-1)
	updated = append(updated, s.subreddits[:idx]...)
	updated = append(updated, s.subreddits[idx+1:]...)
	s.subreddits = updated

	s.log.WithField("subreddit", name).Info("Subreddit removed")
	return s.snapshot(), nil
}

// SetDateRange fixes the search window
func (s *SettingsStore) SetDateRange(start, end time.Time) (models.AnalysisSettings, error) {
	if end.Before(start) {
		return models.AnalysisSettings{}, ErrInvalidDateRange
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.startDate = start
	s.endDate = end
	s.fixedRange = true

	s.log.WithFields(logrus.Fields{
		"start_date": start.Format(time.RFC3339),
		"end_date":   end.Format(time.RFC3339),
	}).Info("Date range updated")
	return s.snapshot(), nil
}

// Reset restores the preset subreddits and the rolling window
func (s *SettingsStore) Reset() models.AnalysisSettings {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.subreddits = append([]string(nil), s.defaults...)
	s.startDate = time.Time{}
	s.endDate = time.Time{}
	s.fixedRange = false

	return s.snapshot()
}
