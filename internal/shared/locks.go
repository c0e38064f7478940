package shared

import (
	"fmt"
	"time"
)

// RollupLockKey builds the redis key guarding a roll-up run for one tenant day.
func RollupLockKey(tenantID int64, day time.Time) string {
	return fmt.Sprintf("rollup:lock:%d:%s", tenantID, day.Format(time.DateOnly))
}
