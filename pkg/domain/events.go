package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter EventType = "node_enter"
	EventNodeLeave EventType = "node_leave"
	EventRoute     EventType = "route"
	EventSuspend   EventType = "suspend"
	EventComplete  EventType = "complete"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
}

// NodeEvent represents entry into or exit from a node handler.
// Duration and Err are only set on leave.
type NodeEvent struct {
	EventBase
	Node     string        `json:"node"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// RouteEvent records the successor chosen after a node, or the routing failure.
type RouteEvent struct {
	EventBase
	From string `json:"from"`
	Key  string `json:"key,omitempty"`
	To   string `json:"to,omitempty"`
	Err  error  `json:"-"`
}

// RunEvent marks a run stopping, either suspended or completed.
type RunEvent struct {
	EventBase
	Node   string        `json:"node,omitempty"`
	Reason SuspendReason `json:"reason,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
// Any hook may be nil.
type LifecycleHooks struct {
	OnNodeEnter func(context.Context, *NodeEvent)
	OnNodeLeave func(context.Context, *NodeEvent)
	OnRoute     func(context.Context, *RouteEvent)
	OnSuspend   func(context.Context, *RunEvent)
	OnComplete  func(context.Context, *RunEvent)
}

// ChainHooks returns hooks that fan out to every non-nil hook in order.
func ChainHooks(all ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *NodeEvent) {
			for _, h := range all {
				if h.OnNodeEnter != nil {
					h.OnNodeEnter(ctx, e)
				}
			}
		},
		OnNodeLeave: func(ctx context.Context, e *NodeEvent) {
			for _, h := range all {
				if h.OnNodeLeave != nil {
					h.OnNodeLeave(ctx, e)
				}
			}
		},
		OnRoute: func(ctx context.Context, e *RouteEvent) {
			for _, h := range all {
				if h.OnRoute != nil {
					h.OnRoute(ctx, e)
				}
			}
		},
		OnSuspend: func(ctx context.Context, e *RunEvent) {
			for _, h := range all {
				if h.OnSuspend != nil {
					h.OnSuspend(ctx, e)
				}
			}
		},
		OnComplete: func(ctx context.Context, e *RunEvent) {
			for _, h := range all {
				if h.OnComplete != nil {
					h.OnComplete(ctx, e)
				}
			}
		},
	}
}

// StepKind classifies the outcome of one executor step.
type StepKind string

const (
	StepAdvanced  StepKind = "advanced"
	StepSuspended StepKind = "suspended"
	StepCompleted StepKind = "completed"
)

// StepResult is what the executor reports after each step.
//   - Advanced: Node ran, State is the merged state, Next is the resolved successor.
//   - Suspended: Node is where the run paused and Reason says why.
//   - Completed: State is the final state.
type StepResult struct {
	Kind   StepKind      `json:"kind"`
	RunID  string        `json:"run_id"`
	Step   int           `json:"step"`
	Node   string        `json:"node,omitempty"`
	Next   string        `json:"next,omitempty"`
	Reason SuspendReason `json:"reason,omitempty"`
	State  State         `json:"state"`
}
