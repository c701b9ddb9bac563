package reconcile

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var orderIDPattern = regexp.MustCompile(`^CV-([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})-.+$`)

// NewOrderID builds the order id for a purchase of cvID:
// CV-<cv uuid>-<unix millis>-<8 random hex>.
func NewOrderID(cvID string, at time.Time) string {
	return fmt.Sprintf("CV-%s-%d-%s", cvID, at.UnixMilli(), uuid.NewString()[:8])
}

// CVIDFromOrderID extracts the CV id embedded in an order id.
func CVIDFromOrderID(orderID string) (string, bool) {
	m := orderIDPattern.FindStringSubmatch(orderID)
	if m == nil {
		return "", false
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return "", false
	}
	return id.String(), true
}
