package sim

import "errors"

// Error taxonomy. Callers match with errors.Is; producers wrap with
// fmt.Errorf("%w: ...", Err...).
var (
	// ErrConfiguration marks a missing or out-of-range physical constant.
	// Unrecoverable for the instance being constructed.
	ErrConfiguration = errors.New("configuration error")

	// ErrInitializationOrder marks a lifecycle call made out of order, e.g.
	// Advance before FinishInitialization or any call after Dispose.
	ErrInitializationOrder = errors.New("initialization order error")

	// ErrBackendResource marks a parallel backend that could not allocate its
	// buffers or complete a dispatch. The controller falls back to the
	// sequential backend when this happens during construction.
	ErrBackendResource = errors.New("backend resource error")

	// ErrNumericInstability marks a step that produced non-finite node state.
	// It is a warning: the processor stays usable and the episode layer
	// decides whether to reset.
	ErrNumericInstability = errors.New("numeric instability")
)
