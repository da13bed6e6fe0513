// x/timex/timex.go
package timex

import "time"

// NowMs returns Unix milliseconds as int64. State and event payloads carry
// timestamps in this form.
func NowMs() int64 { return time.Now().UnixMilli() }
