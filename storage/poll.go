package storage

import (
	"context"
	"time"
)

// DefaultPollInterval is used by PollSubscribe when interval is not positive.
const DefaultPollInterval = 2 * time.Second

// PollSubscribe implements Lists.ListSubscribe for backends without push
// notification by re-reading the list every interval and delivering entries
// past the length observed on the previous read.
//
// The baseline is read before PollSubscribe returns, so entries appended
// afterwards are never missed.
func PollSubscribe(ctx context.Context, lists Lists, list string, interval time.Duration, fn func(ListEntry)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	entries, err := lists.ListFetch(ctx, list)
	if err != nil {
		return err
	}
	seen := len(entries)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			entries, err := lists.ListFetch(ctx, list)
			if err != nil {
				continue
			}
			for _, e := range entries[min(seen, len(entries)):] {
				fn(e)
			}
			if len(entries) > seen {
				seen = len(entries)
			}
		}
	}()
	return nil
}

// ValidName reports whether name is safe to use as a list or table name.
// Table keys are arbitrary non-empty strings and may contain '/'.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return false
		}
	}
	return true
}
