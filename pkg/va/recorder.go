package va

import "time"

// Recorder receives controller measurements. internal/observe provides the
// OpenTelemetry implementation; a nil Recorder disables recording.
type Recorder interface {
	// Admission counts an admission call by operation name and result.
	Admission(op string, code ResultCode)

	// Transition counts a lifecycle transition.
	Transition(from, to LifecycleState)

	// PendingOperations adjusts the number of outstanding operations.
	PendingOperations(delta int64)

	// OperationDone records how long a pending operation was outstanding.
	OperationDone(kind OperationKind, code ResultCode, d time.Duration)

	// DialogDone records how long a dialog was active.
	DialogDone(code ResultCode, d time.Duration)

	// Notification counts a delivered notification by kind.
	Notification(kind string)
}

type nopRecorder struct{}

func (nopRecorder) Admission(string, ResultCode)                           {}
func (nopRecorder) Transition(LifecycleState, LifecycleState)              {}
func (nopRecorder) PendingOperations(int64)                                {}
func (nopRecorder) OperationDone(OperationKind, ResultCode, time.Duration) {}
func (nopRecorder) DialogDone(ResultCode, time.Duration)                   {}
func (nopRecorder) Notification(string)                                    {}
