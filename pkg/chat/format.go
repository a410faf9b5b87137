package chat

import (
	"fmt"
	"strings"
	"time"
)

// FormatDate renders a timestamp with the platform date macro so every reader
// sees it in their own timezone.
func FormatDate(t time.Time) string {
	return fmt.Sprintf("<!date^%d^{date_pretty} at {time}|%s>", t.Unix(), t.UTC().Format(time.RFC3339))
}

// FormatLink renders a named hyperlink.
func FormatLink(url, name string) string {
	return fmt.Sprintf("<%s|%s>", url, name)
}

// FormatChannel renders a channel reference.
func FormatChannel(channelID, name string) string {
	return fmt.Sprintf("<#%s|%s>", channelID, name)
}

// FormatDuration renders a start-end window with its length in minutes.
func FormatDuration(start, end time.Time) string {
	minutes := int(end.Sub(start).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%s - %s (%d min.)", FormatDate(start), FormatDate(end), minutes)
}

// MessageTSToPermalinkPath converts a message timestamp id into the path
// fragment used by workspace permalinks.
func MessageTSToPermalinkPath(channelID, ts string) string {
	return fmt.Sprintf("archives/%s/p%s", channelID, strings.ReplaceAll(ts, ".", ""))
}
