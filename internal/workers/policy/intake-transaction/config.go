package intaketransaction

import "time"

type Config struct {
	Timeout time.Duration
}
