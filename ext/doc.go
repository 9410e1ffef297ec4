// Package ext defines the extension system for moira.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, streaming progress to browsers, sending
// notifications. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type Notifier struct{}
//
//	func (n *Notifier) Name() string { return "notifier" }
//
//	func (n *Notifier) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    return mail.Send(j.OwnerID, "analysis finished")
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobSubmitted]: the job record was created in queued state
//   - [JobStarted]: the job moved to running
//   - [JobCompleted]: all steps succeeded and the result is stored
//   - [JobFailed]: a step failed, or the job was interrupted
//   - [JobCancelled]: cancellation was honored at a step boundary
//
// # Step Lifecycle Hooks
//
//   - [StepStarted], [StepCompleted], [StepFailed]
//   - [ArtifactStored]: a step emitted an artifact
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down
//
// Hook errors are logged and never affect job execution.
package ext
