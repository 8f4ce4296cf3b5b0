// Package errs classifies pipeline errors into four kinds — Transport,
// Decode, Invariant, Shutdown — and the retry policy that follows from
// each: Transport and some Decode errors loop at the block boundary,
// Invariant errors abort the pipeline, Shutdown is not an error at all.
package errs

import "errors"

// Kind is one of the four pipeline error categories.
type Kind int

const (
	// KindUnknown is the classification given to an error that didn't
	// come from this package's sentinels or Wrap calls — callers should
	// treat it as fatal, same as Invariant.
	KindUnknown Kind = iota
	KindTransport
	KindDecode
	KindInvariant
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindInvariant:
		return "invariant"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Retryable reports whether the block-processing loop should retry after
// a jittered backoff rather than abort.
func (k Kind) Retryable() bool {
	return k == KindTransport || k == KindDecode
}

type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Wrap tags err with a classification kind, for errors originating
// outside this package (RPC client failures, storage driver errors).
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// KindOf extracts the classification of err, walking the Unwrap chain.
// Sentinels declared in this package (ErrTreeFull, ErrShutdown, etc.)
// carry their kind directly; anything wrapped with Wrap carries it
// explicitly; anything else classifies as KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	for k, sentinels := range sentinelsByKind {
		for _, s := range sentinels {
			if errors.Is(err, s) {
				return k
			}
		}
	}
	return KindUnknown
}

// Sentinel invariant errors: always fatal. Component packages wrap
// these with context via fmt.Errorf("...: %w", err).
var (
	ErrTreeFull          = errors.New("errs: commitment tree is full")
	ErrWitnessFull       = errors.New("errs: witness is full")
	ErrAnchorMismatch    = errors.New("errs: staged root is not a known chain anchor")
	ErrInconsistentState = errors.New("errs: persisted tree/witness state is inconsistent")
)

// ErrShutdown signals an orderly shutdown in progress; it is not a
// failure and must not be logged at ERROR.
var ErrShutdown = errors.New("errs: shutdown requested")

var sentinelsByKind = map[Kind][]error{
	KindInvariant: {ErrTreeFull, ErrWitnessFull, ErrAnchorMismatch, ErrInconsistentState},
	KindShutdown:  {ErrShutdown},
}
