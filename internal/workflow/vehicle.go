package workflow

import "decoflow/internal/domain"

// AllApproved reports whether every vehicle record attached to a component
// has cleared logistics. A record clears when its status is DELIVERED, or
// when it has been both received and approved. No records means nothing to
// approve.
func AllApproved(records []domain.VehicleRecord) bool {
	for _, r := range records {
		if r.Status == domain.VehicleStatusDelivered {
			continue
		}
		if r.Received && r.Approved {
			continue
		}
		return false
	}
	return true
}
