package engine

import (
	"encoding/json"
	"fmt"
)

// Kind is the type of a managed resource.
type Kind string

const (
	// KindPackage is an operating system package.
	KindPackage Kind = "package"

	// KindCert is a TLS certificate/key pair on disk.
	KindCert Kind = "cert"

	// KindFile is a rendered file on disk.
	KindFile Kind = "file"

	// KindImage is a locally built container image.
	KindImage Kind = "image"

	// KindService is a container managed by the compose topology.
	KindService Kind = "service"
)

// kindPriority is the stable tie-break order for operations with no
// dependency relation between them.
var kindPriority = map[Kind]int{
	KindPackage: 0,
	KindCert:    1,
	KindFile:    2,
	KindImage:   3,
	KindService: 4,
}

// Priority returns the position of the kind in the tie-break order.
// Unknown kinds sort last.
func (k Kind) Priority() int {
	if p, ok := kindPriority[k]; ok {
		return p
	}
	return len(kindPriority)
}

// Validate checks if the kind is known.
func (k Kind) Validate() error {
	if _, ok := kindPriority[k]; !ok {
		return fmt.Errorf("invalid resource kind: %q", k)
	}
	return nil
}

// Refreshable reports whether a converged resource of this kind can be
// restarted when one of its notify dependencies changes.
func (k Kind) Refreshable() bool {
	return k == KindService
}

// TransientProne reports whether operations on this kind talk to the network
// or a daemon and are therefore worth retrying.
func (k Kind) TransientProne() bool {
	switch k {
	case KindPackage, KindImage, KindService:
		return true
	default:
		return false
	}
}

// Kinds returns all known kinds in priority order.
func Kinds() []Kind {
	return []Kind{KindPackage, KindCert, KindFile, KindImage, KindService}
}

// Action is what an operation does to its resource.
type Action string

const (
	// ActionCreate brings an absent resource into existence.
	ActionCreate Action = "create"

	// ActionUpdate reconciles a present resource whose signal drifted.
	ActionUpdate Action = "update"

	// ActionRestart refreshes a converged resource after a notify dependency changed.
	ActionRestart Action = "restart"

	// ActionNoop marks a converged resource in reports. It is never planned.
	ActionNoop Action = "noop"
)

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionCreate, ActionUpdate, ActionRestart, ActionNoop:
		return nil
	default:
		return fmt.Errorf("invalid action: %q", a)
	}
}

// DependencyType describes how an edge between two resources behaves.
type DependencyType string

const (
	// DependencyRequire orders the target first and skips the dependent if the target fails.
	DependencyRequire DependencyType = "require"

	// DependencyNotify behaves like require and additionally refreshes the
	// dependent when the target is created or updated.
	DependencyNotify DependencyType = "notify"
)

// Validate checks if the dependency type is valid.
func (d DependencyType) Validate() error {
	switch d {
	case DependencyRequire, DependencyNotify:
		return nil
	default:
		return fmt.Errorf("invalid dependency type: %q", d)
	}
}

// OperationStatus is the execution state of a single operation.
type OperationStatus string

const (
	// StatusPlanned indicates the operation is waiting to run.
	StatusPlanned OperationStatus = "planned"

	// StatusRunning indicates the operation is executing.
	StatusRunning OperationStatus = "running"

	// StatusSucceeded indicates the operation changed the resource successfully.
	StatusSucceeded OperationStatus = "succeeded"

	// StatusFailed indicates the operation failed terminally.
	StatusFailed OperationStatus = "failed"

	// StatusSkippedConverged indicates the resource already matched its desired state.
	StatusSkippedConverged OperationStatus = "skipped_converged"

	// StatusSkippedDependencyFailed indicates an ancestor operation failed.
	StatusSkippedDependencyFailed OperationStatus = "skipped_dependency_failed"

	// StatusSkippedCancelled indicates the run was cancelled before the operation started.
	StatusSkippedCancelled OperationStatus = "skipped_cancelled"
)

// IsTerminal returns true if no transition leaves this status.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkippedConverged,
		StatusSkippedDependencyFailed, StatusSkippedCancelled:
		return true
	default:
		return false
	}
}

// IsSuccessful returns true if dependents of an operation with this status may run.
func (s OperationStatus) IsSuccessful() bool {
	return s == StatusSucceeded || s == StatusSkippedConverged
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OperationStatus) CanTransitionTo(next OperationStatus) bool {
	switch s {
	case StatusPlanned:
		return next == StatusRunning || next == StatusSkippedConverged ||
			next == StatusSkippedDependencyFailed || next == StatusSkippedCancelled
	case StatusRunning:
		return next == StatusSucceeded || next == StatusFailed || next == StatusSkippedConverged
	default:
		return false
	}
}

// Validate checks if the operation status is valid.
func (s OperationStatus) Validate() error {
	switch s {
	case StatusPlanned, StatusRunning, StatusSucceeded, StatusFailed,
		StatusSkippedConverged, StatusSkippedDependencyFailed, StatusSkippedCancelled:
		return nil
	default:
		return fmt.Errorf("invalid operation status: %q", s)
	}
}

// RunStatus represents the overall outcome of an apply run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every operation succeeded or was converged.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates at least one operation failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled before all operations started.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %q", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := RunStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// UnmarshalJSON implements json.Unmarshaler with validation.
func (s *OperationStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := OperationStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}
