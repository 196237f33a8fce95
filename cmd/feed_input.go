package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/liftlog/liftsocial/internal/feed"
)

// parseSets turns --set values of the form "Name:RepsxWeight[,RepsxWeight...]"
// into exercises. Repeated names are merged into one exercise, in the order
// the name first appeared.
func parseSets(values []string) ([]feed.Exercise, error) {
	var exercises []feed.Exercise
	index := make(map[string]int)

	for _, v := range values {
		name, rest, ok := strings.Cut(v, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.TrimSpace(rest) == "" {
			return nil, fmt.Errorf("invalid set %q: expected Name:RepsxWeight", v)
		}

		for _, part := range strings.Split(rest, ",") {
			set, err := parseSet(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("invalid set %q: %w", v, err)
			}
			i, seen := index[strings.ToLower(name)]
			if !seen {
				i = len(exercises)
				index[strings.ToLower(name)] = i
				exercises = append(exercises, feed.Exercise{Name: name})
			}
			exercises[i].Sets = append(exercises[i].Sets, set)
		}
	}
	return exercises, nil
}

// parseSet parses "5x100" or "5x102.5". A bare rep count means bodyweight.
func parseSet(s string) (feed.Set, error) {
	repsText, weightText, hasWeight := strings.Cut(strings.ToLower(s), "x")

	reps, err := strconv.Atoi(strings.TrimSpace(repsText))
	if err != nil || reps <= 0 {
		return feed.Set{}, fmt.Errorf("reps must be a positive whole number, got %q", repsText)
	}
	if !hasWeight {
		return feed.Set{Reps: reps}, nil
	}

	weight, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(weightText), "kg"), 64)
	if err != nil || weight < 0 {
		return feed.Set{}, fmt.Errorf("weight must be a non-negative number, got %q", weightText)
	}
	return feed.Set{Reps: reps, WeightKg: weight}, nil
}

// parseSince accepts a lookback duration such as "48h", a date in
// YYYY-MM-DD form or an RFC 3339 timestamp.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: use a duration like 48h, a date like 2024-05-01 or an RFC 3339 time", s)
}
