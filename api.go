package feedz

import "time"

// Name identifies a component within a topology. Names appear in error
// paths, lifecycle events, and trace tags, so keep them short and stable.
type Name = string

// Status is the terminal status of a Feeder or Worker run. Both exits are
// terminal; a finished task never resumes.
type Status string

const (
	// StatusCompleted means the Feeder exhausted its source normally and
	// enqueued a termination marker per worker.
	StatusCompleted Status = "completed"

	// StatusCompletedAtLimit means the Feeder stopped because it reached
	// its accepted-item limit. Markers are still enqueued.
	StatusCompletedAtLimit Status = "completed-at-limit"

	// StatusCanceled means the task observed the cancellation signal (or a
	// done context) and stopped. A cancelled Feeder enqueues no markers; a
	// cancelled Worker does not invoke its exit callback.
	StatusCanceled Status = "canceled"

	// StatusGraceful means a Worker dequeued a termination marker and
	// stopped cleanly.
	StatusGraceful Status = "graceful"

	// StatusFailed means a Worker's processing function returned an error.
	// The error is surfaced alongside the status, never swallowed.
	StatusFailed Status = "failed"
)

// Default blocking bounds for channel operations. These also bound how long
// a task can go without re-checking its cancellation signal, so lower them
// when cancellation responsiveness matters more than wakeup overhead.
const (
	DefaultPutTimeout = 10 * time.Second
	DefaultGetTimeout = 10 * time.Second
)
