// types/accessory.go
package types

// SlotState is the lifecycle state of one accessory slot.
type SlotState string

const (
	SlotUnattached SlotState = "unattached"
	SlotAttaching  SlotState = "attaching"
	SlotAttached   SlotState = "attached"
	SlotDetaching  SlotState = "detaching"
)

// SlotEvent is published (retained) on accessory/slot/<port>/state.
type SlotEvent struct {
	Port      int       `json:"port"` // 1-based
	State     SlotState `json:"state"`
	ProductID string    `json:"product_id,omitempty"`
	Alias     string    `json:"alias,omitempty"`
	AttachID  string    `json:"attach_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	TSms      int64     `json:"ts_ms"`
}

// ---- Attribute controls (accessory/attr/<verb>) ----

type AttrShow struct {
	Path string `json:"path"` // e.g. "enf/reset" or "ap1/vendor-id"
}

type AttrShowReply struct {
	OK    bool   `json:"ok"`
	Value string `json:"value"`
}

type AttrStore struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

type AttrList struct {
	Path string `json:"path"`
}

type AttrListReply struct {
	OK      bool     `json:"ok"`
	Entries []string `json:"entries"`
}

// ---- Slot controls (accessory/slot/<verb>) ----

type SlotAttach struct {
	Port int `json:"port"`
}

type SlotDetach struct {
	Port int `json:"port"`
}
