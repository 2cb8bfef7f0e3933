package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldService   = "service"
	FieldComponent = "component"
	FieldSession   = "session_id"
	FieldModule    = "module"

	// Scheduling fields
	FieldKind     = "kind"
	FieldTick     = "tick"
	FieldListener = "listener"
	FieldSequence = "sequence"
	FieldPriority = "priority"
	FieldStage    = "stage"
	FieldFailures = "failures"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Arbitration fields
	FieldArbiter = "arbiter"
	FieldWinner  = "winner"
	FieldLosses  = "losses"
)
