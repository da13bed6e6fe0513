// services/accessory/internal/enf/attrs.go
package enf

import (
	"fmt"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"
	"accessorycard-go/services/accessory/internal/eeprom"
	"accessorycard-go/services/accessory/internal/pins"
)

// reset, the product-info fields, and the terminator.
const attrSetSize = 1 + eeprom.NumAttributes + 1

// buildAttributes returns a complete attribute set for port or an error; on
// error every attribute created along the way has been released.
func (c *Controller) buildAttributes(port int) (*core.AttrSet, error) {
	set := core.NewAttrSet(attrSetSize)

	reset, err := c.pub.NewAttribute(AttrReset, core.ModeRW)
	if err != nil {
		return nil, errcode.Wrap(errcode.Of(err), "create attribute "+AttrReset, err)
	}
	reset.Show, reset.Store = pins.AttrHandlers(c.pins, c.ResolvePin, port)
	if err := set.Add(reset); err != nil {
		reset.Release()
		set.Release()
		return nil, err
	}

	if err := c.info.AppendProductInfoAttributes(port, set); err != nil {
		set.Release()
		return nil, errcode.Wrap(errcode.Of(err), "add product info attributes", err)
	}
	if !set.Complete() {
		msg := fmt.Sprintf("%d of %d entries", set.Len(), set.Cap()-1)
		set.Release()
		return nil, &errcode.E{C: errcode.InvalidAttribute, Op: "build attributes", Msg: msg}
	}
	return set, nil
}
