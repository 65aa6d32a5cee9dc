package relay

import "fmt"

// Failure is the error returned for any non-success pipeline outcome. It
// keeps the Transfer so the orchestrator can log command, exit status, and
// stderr excerpt.
type Failure struct {
	Transfer *Transfer
	Err      error
}

func (f *Failure) Error() string {
	t := f.Transfer
	if f.Err != nil {
		return fmt.Sprintf("%s relay %s after %d bytes: %v",
			t.Name, t.Outcome, t.BytesTransferred, f.Err)
	}
	switch t.Outcome {
	case OutcomeSourceFailed:
		return fmt.Sprintf("%s relay: source command exited %d: %s",
			t.Name, t.SourceExit, t.SourceStderr)
	case OutcomeTargetFailed:
		return fmt.Sprintf("%s relay: target command exited %d: %s",
			t.Name, t.TargetExit, t.TargetStderr)
	default:
		return fmt.Sprintf("%s relay %s: %d bytes relayed, %d expected",
			t.Name, t.Outcome, t.BytesTransferred, t.BytesExpected)
	}
}

func (f *Failure) Unwrap() error { return f.Err }
