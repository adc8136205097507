package services

import "time"

// Timestamps are stored as UTC RFC3339 text. Event and terminal-chunk
// timestamps use REAL epoch seconds instead, matching the wire envelope.

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
