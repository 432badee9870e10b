package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for upload queue job identifiers.
	FieldJobID = "job_id"
	// FieldArtifactKind is the standardized structured logging key for artifact kinds (image, audio, batch).
	FieldArtifactKind = "artifact_kind"
	// FieldArtifactPath is the standardized structured logging key for staged artifact paths.
	FieldArtifactPath = "artifact_path"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step for an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for the consequence of a warning.
	FieldImpact = "impact"
	// FieldSessionID is the standardized structured logging key for run session identifiers.
	FieldSessionID = "session_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)
