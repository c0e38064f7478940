package shared

import "errors"

// ErrInvalidDate indicates a date outside the YYYY-MM-DD format.
var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")
