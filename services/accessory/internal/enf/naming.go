// services/accessory/internal/enf/naming.go
package enf

import (
	"fmt"
	"strings"

	"accessorycard-go/services/accessory/internal/core"
)

// SlotAlias computes the alias for a card being attached to the 1-based port:
// base when no lower-numbered port holds productID, otherwise base-(k+1)
// where k is the number that do. The result is fixed for the life of the
// attachment; it is not recomputed when lower ports change later.
func SlotAlias(base, productID string, port int, ports core.Ports) string {
	count := 0
	for i := 0; i < port-1 && i < ports.NumPorts(); i++ {
		p := ports.Port(i)
		if p != nil && productID != "" && strings.Contains(p.ProductID, productID) {
			count++
		}
	}
	if count == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, count+1)
}
