package enums

import "fmt"

// TimelineActor records who drove an order status transition.
type TimelineActor string

const (
	TimelineActorBuyer   TimelineActor = "buyer"
	TimelineActorAdmin   TimelineActor = "admin"
	TimelineActorGateway TimelineActor = "gateway"
	TimelineActorSweeper TimelineActor = "sweeper"
	TimelineActorSystem  TimelineActor = "system"
)

var validTimelineActors = []TimelineActor{
	TimelineActorBuyer,
	TimelineActorAdmin,
	TimelineActorGateway,
	TimelineActorSweeper,
	TimelineActorSystem,
}

// String implements fmt.Stringer.
func (t TimelineActor) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TimelineActor.
func (t TimelineActor) IsValid() bool {
	for _, candidate := range validTimelineActors {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTimelineActor converts raw input into a TimelineActor.
func ParseTimelineActor(value string) (TimelineActor, error) {
	for _, candidate := range validTimelineActors {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid timeline actor %q", value)
}
