package rides

// GateInput is everything the availability gate looks at. All fields come
// from already-fetched projections; the gate itself never touches the store.
type GateInput struct {
	VehicleRegistered   bool
	VerificationStatus  string
	Balance             float64
	BalanceCheckEnabled bool
}

// Eligible computes whether a driver may see and accept ride requests. The
// gate is advisory UX gating only; the exclusivity guarantee for acceptance
// stays with the conditional write in the matching coordinator.
func Eligible(in GateInput) (bool, []string) {
	var reasons []string

	if !in.VehicleRegistered {
		reasons = append(reasons, "no registered vehicle")
	}
	if in.VerificationStatus != "accepted" {
		reasons = append(reasons, "driver verification not accepted")
	}
	if in.BalanceCheckEnabled && in.Balance < 0 {
		reasons = append(reasons, "balance below zero")
	}

	return len(reasons) == 0, reasons
}
