package lifecycle

import "github.com/nebulastream/nebula-core/internal/nebulaerr"

// Action is the policy response to a classified failure, per spec.md
// §7's Policy table.
type Action int

const (
	// ActionBackpressure retries the task later; not a failure.
	ActionBackpressure Action = iota
	// ActionFailQuery fails the owning query.
	ActionFailQuery
	// ActionIsolate fails only the offending source/origin, if it is
	// not the only contributor to its origin.
	ActionIsolate
	// ActionSilent releases the buffer and does nothing else.
	ActionSilent
)

// PolicyFor maps a classified error to the runtime's response, per
// spec.md §7:
//
//	ResourceExhausted at a non-critical point -> backpressure
//	ResourceExhausted at a critical point     -> fail the query
//	Protocol from a source                    -> isolate (or fail if sole contributor)
//	KernelFailure                             -> fail the query
//	Cancelled                                 -> silent
//	Internal                                  -> fail the query (fatal)
//
// critical distinguishes a ResourceExhausted that occurred somewhere
// recoverable by retry (acquiring an input buffer) from one that
// occurred at a point with no retry option (failing to emit a
// downstream merge/trigger/probe task).
func PolicyFor(err error, critical bool) Action {
	var ne *nebulaerr.Error
	code := nebulaerr.Internal
	if asError(err, &ne) {
		code = ne.Code
	}
	switch code {
	case nebulaerr.ResourceExhausted:
		if critical {
			return ActionFailQuery
		}
		return ActionBackpressure
	case nebulaerr.Protocol:
		return ActionIsolate
	case nebulaerr.KernelFailure:
		return ActionFailQuery
	case nebulaerr.Cancelled:
		return ActionSilent
	default:
		return ActionFailQuery
	}
}

func asError(err error, target **nebulaerr.Error) bool {
	ne, ok := err.(*nebulaerr.Error)
	if !ok {
		return false
	}
	*target = ne
	return true
}
