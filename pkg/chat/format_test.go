package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDate(t *testing.T) {
	ts := time.Date(2024, 5, 14, 12, 30, 0, 0, time.UTC)

	formatted := FormatDate(ts)

	assert.Contains(t, formatted, "<!date^1715689800^")
	assert.Contains(t, formatted, "2024-05-14T12:30:00Z")
}

func TestFormatDuration(t *testing.T) {
	start := time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)

	assert.Contains(t, FormatDuration(start, start.Add(45*time.Minute)), "(45 min.)")
	// A clock skew between the two rows must not render a negative length.
	assert.Contains(t, FormatDuration(start, start.Add(-time.Minute)), "(0 min.)")
}

func TestMessageTSToPermalinkPath(t *testing.T) {
	assert.Equal(t, "archives/C123/p1234567890123456",
		MessageTSToPermalinkPath("C123", "1234567890.123456"))
}
