package domain

// Step identifies one of the three saga steps.
type Step string

const (
	StepClientRegistration Step = "CLIENT_REGISTRATION"
	StepWarehouseAdd       Step = "WAREHOUSE_ADD"
	StepRouteOptimization  Step = "ROUTE_OPTIMIZATION"
)

// StepOrder is the fixed forward sequence. The warehouse step precedes route
// optimization: a route can only be optimized against a package that already
// exists in the warehouse.
func StepOrder() []Step {
	return []Step{StepClientRegistration, StepWarehouseAdd, StepRouteOptimization}
}

// StepStatus is the per-step progress recorded in the ledger.
type StepStatus string

const (
	StepNotStarted StepStatus = "NOT_STARTED"
	StepProcessing StepStatus = "PROCESSING"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
)

// StepResult is the only thing an adapter surfaces to the orchestrator: no
// errors cross the adapter boundary. It is never partially filled; use the
// constructors.
type StepResult struct {
	Success  bool
	Message  string
	Response string
}

// StepSuccess builds a successful result carrying the raw protocol response.
func StepSuccess(message, response string) StepResult {
	return StepResult{Success: true, Message: message, Response: response}
}

// StepFailure builds a failed result carrying the error detail.
func StepFailure(message, detail string) StepResult {
	return StepResult{Success: false, Message: message, Response: detail}
}
