package domain

import (
	"fmt"
	"time"
)

// Calendar-day offsets applied to the activation instant per kit type.
const (
	longTermCompletionDays   = 91
	longTermRetrievalDays    = 80
	realEstateCompletionDays = 4
	realEstateRetrievalDays  = 2
)

// Timeline carries the derived deadlines stamped at activation.
type Timeline struct {
	ExpectedCompletion time.Time
	RetrievalDue       time.Time
}

// ComputeTimeline derives the expected-completion and retrieval-due dates
// from the kit type and activation instant using UTC calendar-day addition.
// An unrecognized kit type is a programmer error and panics; kit types are
// validated at session creation.
func ComputeTimeline(kit KitType, activatedAt time.Time) Timeline {
	at := activatedAt.UTC()
	switch kit {
	case KitLongTerm:
		return Timeline{
			ExpectedCompletion: at.AddDate(0, 0, longTermCompletionDays),
			RetrievalDue:       at.AddDate(0, 0, longTermRetrievalDays),
		}
	case KitRealEstateShort:
		return Timeline{
			ExpectedCompletion: at.AddDate(0, 0, realEstateCompletionDays),
			RetrievalDue:       at.AddDate(0, 0, realEstateRetrievalDays),
		}
	default:
		panic(fmt.Sprintf("unknown kit type %q", kit))
	}
}

// KnownKitType reports whether the value is one of the canonical kit types.
func KnownKitType(kit KitType) bool {
	switch kit {
	case KitLongTerm, KitRealEstateShort:
		return true
	default:
		return false
	}
}
