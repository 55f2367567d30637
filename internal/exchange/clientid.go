package exchange

import (
	"fmt"

	"github.com/google/uuid"
)

// ClientOrderID encodes the local mirrored-position id into a
// deterministic-prefix, uuid-suffixed client order id, per spec §4.5: if
// the acknowledgement for an order is lost (timeout, network blip), the
// next cycle can re-discover the order on the exchange by scanning for
// this id instead of blindly retrying and risking a duplicate entry.
func ClientOrderID(mirrorID int64, kind string) string {
	return fmt.Sprintf("mirror-%d-%s-%s", mirrorID, kind, uuid.NewString()[:8])
}
