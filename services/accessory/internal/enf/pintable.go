// services/accessory/internal/enf/pintable.go
package enf

import (
	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"
)

// pinTable is indexed by 0-based slot. Adding a slot position is a data change
// here plus a controlPins entry.
var pinTable = [][]core.PinDescriptor{
	// Accessory card 1
	{
		{Name: "AP1_RESET", Chip: "gpiochip1", Offset: 12, Label: "ap1-reset", Default: core.High},
	},
	// Accessory card 2
	{
		{Name: "AP2_RESET", Chip: "gpiochip1", Offset: 13, Label: "ap2-reset", Default: core.High},
	},
}

// controlPins maps 1-based port and control attribute name to the pin label
// the attribute drives.
var controlPins = map[int]map[string]string{
	1: {AttrReset: "ap1-reset"},
	2: {AttrReset: "ap2-reset"},
}

// NumSlots is the number of slot positions this card type has pins for.
func NumSlots() int { return len(pinTable) }

// PinsFor returns a copy of the pin descriptors for a 0-based slot.
func PinsFor(slot int) ([]core.PinDescriptor, error) {
	if slot < 0 || slot >= len(pinTable) {
		return nil, errcode.InvalidSlot
	}
	return append([]core.PinDescriptor(nil), pinTable[slot]...), nil
}
