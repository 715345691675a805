package telegram

import (
	"fmt"
	"strings"
	"time"

	"feedbridge/internal/model"
)

const timeLayout = "2006-01-02 15:04 UTC"

// FormatFeedList formats the status of every feed for display.
func FormatFeedList(statuses []model.FeedStatus) string {
	if len(statuses) == 0 {
		return "No feeds configured."
	}
	var b strings.Builder
	b.WriteString("Feeds:\n")
	for _, st := range statuses {
		fmt.Fprintf(&b, "\n%s [%s]\n", st.Name, st.Phase)
		fmt.Fprintf(&b, "   %d delivered, last poll %s\n", st.Delivered, formatTime(st.LastPoll))
		if st.LastError != "" {
			fmt.Fprintf(&b, "   error: %s\n", st.LastError)
		}
	}
	return b.String()
}

// FormatFeedInfo formats detailed information about a single feed.
func FormatFeedInfo(st model.FeedStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]\n", st.Name, st.Phase)
	fmt.Fprintf(&b, "URL: %s\n", st.URL)
	if st.RoomID != "" && st.RoomID != st.Room {
		fmt.Fprintf(&b, "Room: %s (%s)\n", st.Room, st.RoomID)
	} else {
		fmt.Fprintf(&b, "Room: %s\n", st.Room)
	}
	fmt.Fprintf(&b, "Delivered: %d\n", st.Delivered)
	fmt.Fprintf(&b, "Polls: %d\n", st.Polls)
	fmt.Fprintf(&b, "Last poll: %s\n", formatTime(st.LastPoll))
	if !st.NextPoll.IsZero() {
		fmt.Fprintf(&b, "Next poll: %s\n", formatTime(st.NextPoll))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", st.LastError)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(timeLayout)
}
