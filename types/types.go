// types/types.go
package types

// ---- Service state (retained) ----

type ServiceState struct {
	Level  string `json:"level"`  // "idle", "ready", "degraded", "stopped"
	Status string `json:"status"` // short code
	Slots  int    `json:"slots"`  // attached slot count
	Error  string `json:"error,omitempty"`
	TSms   int64  `json:"ts_ms"`
}

// ---- Generic replies ----

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
