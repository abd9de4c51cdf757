package rides

import "testing"

func TestEligible(t *testing.T) {
	tests := []struct {
		name     string
		in       GateInput
		eligible bool
		reasons  int
	}{
		{
			"verified driver with vehicle",
			GateInput{VehicleRegistered: true, VerificationStatus: "accepted"},
			true, 0,
		},
		{
			"missing vehicle",
			GateInput{VehicleRegistered: false, VerificationStatus: "accepted"},
			false, 1,
		},
		{
			"verification pending",
			GateInput{VehicleRegistered: true, VerificationStatus: "pending"},
			false, 1,
		},
		{
			"verification rejected",
			GateInput{VehicleRegistered: true, VerificationStatus: "rejected"},
			false, 1,
		},
		{
			"negative balance ignored when check disabled",
			GateInput{VehicleRegistered: true, VerificationStatus: "accepted", Balance: -200},
			true, 0,
		},
		{
			"negative balance blocks when check enabled",
			GateInput{VehicleRegistered: true, VerificationStatus: "accepted", Balance: -200, BalanceCheckEnabled: true},
			false, 1,
		},
		{
			"zero balance passes the enabled check",
			GateInput{VehicleRegistered: true, VerificationStatus: "accepted", Balance: 0, BalanceCheckEnabled: true},
			true, 0,
		},
		{
			"everything wrong at once",
			GateInput{VehicleRegistered: false, VerificationStatus: "pending", Balance: -1, BalanceCheckEnabled: true},
			false, 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reasons := Eligible(tt.in)
			if ok != tt.eligible {
				t.Errorf("expected eligible=%v, got %v (reasons %v)", tt.eligible, ok, reasons)
			}
			if len(reasons) != tt.reasons {
				t.Errorf("expected %d reasons, got %v", tt.reasons, reasons)
			}
		})
	}
}
