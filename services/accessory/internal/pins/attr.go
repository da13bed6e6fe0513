// services/accessory/internal/pins/attr.go
package pins

import (
	"strconv"
	"strings"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"
)

// AttrHandlers returns show/store callbacks for a GPIO-backed control
// attribute. The attribute's own name is resolved to a pin label per call.
func AttrHandlers(owner core.PinOwner, resolve core.PinResolver, port int) (core.ShowFunc, core.StoreFunc) {
	show := func(a *core.Attribute) (string, error) {
		label, err := resolve(a.Name(), port)
		if err != nil {
			return "", err
		}
		l, err := owner.Level(label)
		if err != nil {
			return "", err
		}
		return l.String(), nil
	}
	store := func(a *core.Attribute, value string) error {
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return errcode.Wrap(errcode.InvalidPayload, "store "+a.Name(), err)
		}
		label, err := resolve(a.Name(), port)
		if err != nil {
			return err
		}
		l := core.Low
		if v != 0 {
			l = core.High
		}
		return owner.SetLevel(label, l)
	}
	return show, store
}
