package analysis

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// Run states. Untyped so they convert to statekit.StateID.
const (
	StateIdle                 = "idle"
	StateFetchingPlanContent  = "fetching_plan_content"
	StateFetchingRequirements = "fetching_requirements"
	StateCheckingCompliance   = "checking_compliance"
	StateEvaluatingQuality    = "evaluating_quality"
	StateAggregating          = "aggregating"
	StateStored               = "stored"
	StateDone                 = "done"
	StateFailed               = "failed"
)

const (
	eventStart              = "start"
	eventPlanLoaded         = "plan_loaded"
	eventRequirementsLoaded = "requirements_loaded"
	eventComplianceDone     = "compliance_done"
	eventQualityDone        = "quality_done"
	eventReportStored       = "report_stored"
	eventFinish             = "finish"
	eventFail               = "fail"
	eventReset              = "reset"
)

// Progress event categories.
const (
	CategoryLifecycle = "lifecycle"
	CategoryError     = "error"
)

// ProgressEvent represents a progress update during an analysis run
type ProgressEvent struct {
	Step     string `json:"step"`
	Category string `json:"category"`
	Message  string `json:"message"`
	RunID    string `json:"run_id,omitempty"`
	Content  any    `json:"content,omitempty"`
}

// ProgressCallback is called on every run state transition
type ProgressCallback func(event ProgressEvent)

type runContext struct {
	RunID  string
	PlanID string
}

// runTracker drives the run state machine and reports each transition.
type runTracker struct {
	mu          sync.Mutex
	runID       string
	interpreter *statekit.Interpreter[runContext]
	onProgress  ProgressCallback
}

func newRunTracker(runID, planID string, onProgress ProgressCallback) (*runTracker, error) {
	builder := statekit.NewMachine[runContext]("analysis-run").
		WithInitial(statekit.StateID(StateIdle)).
		WithContext(runContext{RunID: runID, PlanID: planID})

	builder.State(StateIdle).
		On(eventStart).Target(StateFetchingPlanContent).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateFetchingPlanContent).
		On(eventPlanLoaded).Target(StateFetchingRequirements).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateFetchingRequirements).
		On(eventRequirementsLoaded).Target(StateCheckingCompliance).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateCheckingCompliance).
		On(eventComplianceDone).Target(StateEvaluatingQuality).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateEvaluatingQuality).
		On(eventQualityDone).Target(StateAggregating).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateAggregating).
		On(eventReportStored).Target(StateStored).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateStored).
		On(eventFinish).Target(StateDone).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateDone).
		On(eventReset).Target(StateIdle).
		Done()

	builder.State(StateFailed).
		On(eventReset).Target(StateIdle).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build run state machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &runTracker{runID: runID, interpreter: interpreter, onProgress: onProgress}, nil
}

// current returns the current run state
func (t *runTracker) current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.interpreter.State().Value)
}

// advance sends event and reports the new state. It fails when the event is
// not valid in the current state.
func (t *runTracker) advance(event, message string, content any) error {
	t.mu.Lock()
	before := string(t.interpreter.State().Value)
	t.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	after := string(t.interpreter.State().Value)
	t.mu.Unlock()

	if before == after {
		return fmt.Errorf("event %q is not allowed in state %q", event, before)
	}
	t.emit(after, CategoryLifecycle, message, content)
	return nil
}

// fail moves the run to the failed state unless it already finished.
func (t *runTracker) fail(err error) {
	t.mu.Lock()
	t.interpreter.Send(statekit.Event{Type: statekit.EventType(eventFail)})
	state := string(t.interpreter.State().Value)
	t.mu.Unlock()

	if state == StateFailed {
		t.emit(StateFailed, CategoryError, err.Error(), nil)
	}
}

func (t *runTracker) emit(step, category, message string, content any) {
	if t.onProgress == nil {
		return
	}
	t.onProgress(ProgressEvent{
		Step:     step,
		Category: category,
		Message:  message,
		RunID:    t.runID,
		Content:  content,
	})
}
