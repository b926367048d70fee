// Package audithook is an extension that turns job lifecycle events into
// structured audit records.
//
// Every hook builds an [AuditEvent] and hands it to a [Recorder]. Severity
// follows the outcome: info for normal progress, warning for retries and
// stalls, critical for permanent failures. [NewSlogRecorder] writes the
// records to a *slog.Logger; other backends plug in through [RecorderFunc].
//
//	eng, _ := engine.New(st,
//	    engine.WithExtension(audithook.New(audithook.NewSlogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobStalled,
//	    ),
//	)
package audithook
