package testhelper

import (
	"database/sql"
	"time"

	"github.com/google/go-cmp/cmp"
)

// EquateNullTime returns a cmp option that reports two sql.NullTime values
// equal when their Valid flags match and, for valid values, the instants lie
// within tolerance of each other. History snapshots stamp their deadline
// anchors from the wall clock, so exact comparison is too strict in tests.
func EquateNullTime(tolerance time.Duration) cmp.Option {
	return cmp.Comparer(func(x, y sql.NullTime) bool {
		if x.Valid != y.Valid {
			return false
		}
		if !x.Valid {
			return true
		}
		d := x.Time.Sub(y.Time)
		if d < 0 {
			d = -d
		}
		return d <= tolerance
	})
}
