// services/accessory/internal/enf/resolver.go
package enf

import (
	"accessorycard-go/errcode"
)

// ResolvePin maps a control attribute name and 1-based port to the pin label
// registered for that port. Unknown names or ports are configuration errors:
// they are logged and yield "".
func (c *Controller) ResolvePin(name string, port int) (string, error) {
	ctl, ok := controlPins[port]
	if !ok {
		c.log.Error("port has no pins for ENF", "port", port)
		return "", errcode.InvalidSlot
	}
	label, ok := ctl[name]
	if !ok {
		c.log.Error("attribute name is invalid for ENF", "name", name, "port", port)
		return "", errcode.InvalidAttribute
	}
	return label, nil
}
