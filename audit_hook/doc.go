// Package audithook is a moira extension that turns job lifecycle events
// into an audit trail.
//
// Every submission, state change, step boundary and stored artifact
// becomes an [AuditEvent] handed to a [Recorder]. Severity follows the
// outcome: info for normal progress, warning for step failures and
// cancellations, critical for failed jobs. Each event carries the owner
// so the trail can answer who ran what on which dataset.
//
// # Logging recorder
//
// [LogRecorder] writes events as structured log records, which is what
// moira-server uses when the audit section is enabled:
//
//	engine.WithExtension(audithook.New(audithook.LogRecorder(logger)))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobSubmitted,
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobCancelled,
//	    ),
//	)
package audithook
