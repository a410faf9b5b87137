// Package eta implements the bucketed time-to-resolution estimate and the
// deadline arithmetic driving escalation.
package eta

import (
	"time"
)

// Bucket is a coarse enumerated time-to-resolution estimate.
type Bucket string

const (
	BucketUnder30m Bucket = "<30m"
	BucketUnder2h  Bucket = "<2h"
	BucketUnder8h  Bucket = "<8h"
	BucketUnder24h Bucket = "<24h"
	BucketOver24h  Bucket = ">24h"
	// BucketUnknown means no estimate was given. It never produces a deadline.
	BucketUnknown Bucket = ""
)

var bucketMinutes = map[Bucket]int{
	BucketUnder30m: 30,
	BucketUnder2h:  120,
	BucketUnder8h:  480,
	BucketUnder24h: 1440,
}

// DeadlineBuckets lists the buckets that yield a computable deadline, in
// ascending order. Used by queries that scan for escalatable outages.
func DeadlineBuckets() []string {
	return []string{string(BucketUnder30m), string(BucketUnder2h), string(BucketUnder8h), string(BucketUnder24h)}
}

// Parse validates a user-supplied bucket string. ">24h" and the empty string
// are accepted as "no deadline" estimates.
func Parse(s string) (Bucket, bool) {
	switch Bucket(s) {
	case BucketUnder30m, BucketUnder2h, BucketUnder8h, BucketUnder24h, BucketOver24h, BucketUnknown:
		return Bucket(s), true
	default:
		return BucketUnknown, false
	}
}

// Minutes returns the bucket's upper bound in minutes. The second return is
// false for ">24h" and unknown buckets, which have no bound.
func (b Bucket) Minutes() (int, bool) {
	m, ok := bucketMinutes[b]
	return m, ok
}

// HasDeadline reports whether the bucket yields a computable deadline.
func (b Bucket) HasDeadline() bool {
	_, ok := bucketMinutes[b]
	return ok
}

// Deadline computes the absolute deadline from a bucket and the time it was
// last set. The second return is false when the bucket carries no deadline or
// the anchor is missing.
func Deadline(b Bucket, lastModified time.Time, anchored bool) (time.Time, bool) {
	minutes, ok := b.Minutes()
	if !ok || !anchored {
		return time.Time{}, false
	}
	return lastModified.Add(time.Duration(minutes) * time.Minute), true
}

// Remaining returns the time left until the deadline, clamped at zero once
// overdue. The second return is false when there is no deadline.
func Remaining(b Bucket, lastModified time.Time, anchored bool, now time.Time) (time.Duration, bool) {
	deadline, ok := Deadline(b, lastModified, anchored)
	if !ok {
		return 0, false
	}
	remaining := deadline.Sub(now)
	if remaining < 0 {
		return 0, true
	}
	return remaining, true
}

// Label returns the bucket for display, with unknown estimates spelled out.
func (b Bucket) Label() string {
	if !b.HasDeadline() {
		return "Unknown"
	}
	return string(b)
}
