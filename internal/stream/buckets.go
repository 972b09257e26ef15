package stream

import (
	"time"

	"github.com/freelancehub/convo/internal/chat"
)

// Bucket is a run of consecutive messages sharing a calendar date, labeled
// for display.
type Bucket struct {
	Label    string
	Messages []chat.Message
}

// GroupByDate buckets an ascending message list by calendar date in loc.
// Labels are "Today", "Yesterday", or a locale date string. Bucket order
// follows message order.
func GroupByDate(msgs []chat.Message, now time.Time, loc *time.Location) []Bucket {
	var buckets []Bucket
	var curDay time.Time

	for _, m := range msgs {
		day := startOfDay(time.UnixMilli(m.CreatedAt).In(loc))
		if len(buckets) == 0 || !day.Equal(curDay) {
			buckets = append(buckets, Bucket{Label: dateLabel(day, now.In(loc))})
			curDay = day
		}
		last := &buckets[len(buckets)-1]
		last.Messages = append(last.Messages, m)
	}
	return buckets
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dateLabel(day, now time.Time) string {
	today := startOfDay(now)
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("January 2, 2006")
	}
}
