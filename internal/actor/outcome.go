package actor

import "strings"

// Outcome is the result of one post attempt as reported by the actor, or a
// terminal outcome assigned by the attempt controller.
type Outcome string

const (
	Success            Outcome = "Success"
	SuccessUnconfirmed Outcome = "SuccessUnconfirmed"

	NotAMember           Outcome = "NotAMember"
	DestinationNotFound  Outcome = "DestinationNotFound"
	EntryPointMissing    Outcome = "EntryPointMissing"
	MenuNavigationFailed Outcome = "MenuNavigationFailed"

	// Transient outcomes the sidecar is known to report. Anything not
	// listed as success or fatal is transient too.
	Timeout            Outcome = "Timeout"
	SearchFailed       Outcome = "SearchFailed"
	SelectFailed       Outcome = "SelectFailed"
	SubmitMissing      Outcome = "SubmitMissing"
	SubmitFailed       Outcome = "SubmitFailed"
	SessionLost        Outcome = "SessionLost"
	Exception          Outcome = "Exception"
	ExceptionExhausted Outcome = "ExceptionExhausted"
)

// failedPrefix marks an outcome whose retries ran out.
const failedPrefix = "Failed_"

// Class partitions outcomes for retry decisions.
type Class int

const (
	ClassTransient Class = iota
	ClassSuccess
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// Class reports which retry class o belongs to.
func (o Outcome) Class() Class {
	switch o {
	case Success, SuccessUnconfirmed:
		return ClassSuccess
	case NotAMember, DestinationNotFound, EntryPointMissing, MenuNavigationFailed:
		return ClassFatal
	default:
		return ClassTransient
	}
}

func (o Outcome) IsSuccess() bool { return o.Class() == ClassSuccess }
func (o Outcome) IsFatal() bool   { return o.Class() == ClassFatal }

// Exhausted wraps the last transient outcome once retries are used up.
func Exhausted(last Outcome) Outcome {
	if last == "" {
		last = Exception
	}
	return Outcome(failedPrefix + string(last))
}

// IsExhausted reports whether o is a retries-exhausted failure.
func (o Outcome) IsExhausted() bool {
	return strings.HasPrefix(string(o), failedPrefix) || o == ExceptionExhausted
}

// ParseOutcome normalizes a wire value. Unknown values are kept verbatim
// and therefore classify as transient.
func ParseOutcome(s string) Outcome {
	s = strings.TrimSpace(s)
	if s == "" {
		return Exception
	}
	for _, o := range []Outcome{Success, SuccessUnconfirmed, NotAMember, DestinationNotFound, EntryPointMissing, MenuNavigationFailed} {
		if strings.EqualFold(s, string(o)) {
			return o
		}
	}
	return Outcome(s)
}
