package processtransaction

import "time"

type Config struct {
	// Timeout bounds one job including backoff waits between attempts.
	Timeout time.Duration
	LogTail int
}
