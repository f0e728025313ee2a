package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Dependency errors
	ErrMissingDependency = fmt.Errorf("missing dependency")

	// Download failure classification. ErrContentUnavailable marks fatal
	// per-item failures (private, removed, or geo-blocked content) that must
	// never be retried. ErrSegmentServiceUnreachable marks the case where the
	// audio file downloaded fine but segment-removal post-processing could not
	// reach its backing service; the item is still a success and the work is
	// deferred. Anything else surfaced by a download is treated as transient.
	ErrContentUnavailable        = fmt.Errorf("content unavailable")
	ErrSegmentServiceUnreachable = fmt.Errorf("segment service unreachable")

	// Metadata errors
	ErrMetadataFetch   = fmt.Errorf("metadata fetch failed")
	ErrMetadataMissing = fmt.Errorf("metadata missing")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
)
