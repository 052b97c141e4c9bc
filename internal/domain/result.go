package domain

// Branch names the terminal path a notification took through the processor.
type Branch string

const (
	BranchSkip             Branch = "skip"
	BranchAutoEnrich       Branch = "auto_enrich"
	BranchManualEnrich     Branch = "manual_enrich"
	BranchManualRefresh    Branch = "manual_refresh"
	BranchManualNoLocation Branch = "manual_no_location"
)

// Result is the outcome of processing one notification. A nil Err means the
// delivery can be acknowledged; otherwise Retry tells the worker whether a
// redelivery could succeed.
type Result struct {
	Branch  Branch
	Updated bool
	Err     error
	Retry   bool
}

// Done is a successful outcome.
func Done(branch Branch, updated bool) Result {
	return Result{Branch: branch, Updated: updated}
}

// Retryable is a failure expected to clear on redelivery.
func Retryable(branch Branch, err error) Result {
	return Result{Branch: branch, Err: err, Retry: true}
}

// Terminal is a failure no redelivery can fix.
func Terminal(branch Branch, err error) Result {
	return Result{Branch: branch, Err: err}
}

// OK reports whether the delivery can be acknowledged.
func (r Result) OK() bool { return r.Err == nil }
