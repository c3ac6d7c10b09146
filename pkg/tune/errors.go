package tune

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/kestrel-ai/kestrel/pkg/model"
)

// ErrNoPendingWork is returned by SuggestTrial when no bracket can supply a
// promotion or a new trial right now.
var ErrNoPendingWork = errors.New("no trial available")

// TrialReportError reports a metric arriving for an unknown or already
// terminal trial. It is surfaced to the caller; scheduler state is untouched.
type TrialReportError struct {
	RequestID model.RequestID
	Reason    string
}

func (e TrialReportError) Error() string {
	return fmt.Sprintf("cannot accept report for trial %s: %s", e.RequestID, e.Reason)
}

// PromotionDeadlockError marks a sync rung that waited past its grace period
// on missing sibling reports. The scheduler recovers by forcing the stale
// trials to fail; the error only surfaces in logs.
type PromotionDeadlockError struct {
	BracketID int
	RequestID model.RequestID
}

func (e PromotionDeadlockError) Error() string {
	return fmt.Sprintf("trial %s in bracket %d exceeded the report grace period",
		e.RequestID, e.BracketID)
}
