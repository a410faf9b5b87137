package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	nonAlnum    = regexp.MustCompile(`[^a-z0-9]+`)
	multiHyphen = regexp.MustCompile(`-+`)
)

// Slugify converts a string to a URL- and channel-name-safe slug:
// lowercase, non-alphanumeric runs collapsed to single hyphens, no
// leading or trailing hyphens.
func Slugify(text string) string {
	text = strings.ToLower(text)
	text = nonAlnum.ReplaceAllString(text, "-")
	text = multiHyphen.ReplaceAllString(text, "-")
	return strings.Trim(text, "-")
}

// DedicatedChannelName builds the name of a dedicated outage channel from the
// affected system and the outage creation date, e.g. "o-booking-240301".
// A non-zero offset distinguishes multiple outages of the same system on the
// same day: "o-booking-240301-2".
func DedicatedChannelName(system string, created time.Time, offset int) string {
	name := fmt.Sprintf("o-%s-%s", Slugify(system), created.Format("060102"))
	if offset > 0 {
		name = fmt.Sprintf("%s-%d", name, offset+1)
	}
	return name
}
