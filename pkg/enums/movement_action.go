package enums

import "fmt"

// MovementAction labels an inventory movement row in the audit ledger.
type MovementAction string

const (
	MovementActionSale               MovementAction = "sale"
	MovementActionReturn             MovementAction = "return"
	MovementActionReservationHold    MovementAction = "reservation_hold"
	MovementActionReservationRelease MovementAction = "reservation_release"
	MovementActionAdjustment         MovementAction = "adjustment"
)

var validMovementActions = []MovementAction{
	MovementActionSale,
	MovementActionReturn,
	MovementActionReservationHold,
	MovementActionReservationRelease,
	MovementActionAdjustment,
}

// String implements fmt.Stringer.
func (m MovementAction) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MovementAction.
func (m MovementAction) IsValid() bool {
	for _, candidate := range validMovementActions {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMovementAction converts raw input into a MovementAction.
func ParseMovementAction(value string) (MovementAction, error) {
	for _, candidate := range validMovementActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid movement action %q", value)
}
