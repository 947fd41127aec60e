// Package dispatch executes queued pipeline runs.
//
// The dispatcher dequeues jobs from the run queue and hands each source file
// to the pipeline runner. It is the only writer to a run's working
// namespace while the job runs.
//
// Key features:
//   - Serial FIFO dispatch (one run at a time)
//   - Cooperative cancellation, honored between channels
//   - Job status updates published to an optional notifier
//
// Error handling:
//   - Malformed source or failed channel → failed status
//   - Cancel request or shutdown → cancelled status
//   - Success → succeeded status with per-channel provenance attached
package dispatch
