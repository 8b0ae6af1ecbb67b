package policy

import (
	"fmt"
)

// Severity is the outcome class of a rule.
type Severity string

const (
	// SeverityDeny blocks the plan.
	SeverityDeny Severity = "deny"

	// SeverityWarn is reported but does not block.
	SeverityWarn Severity = "warn"
)

// Policy is one rego module.
type Policy struct {
	// Name identifies the module in errors, e.g. "builtin/files.rego".
	Name string `json:"name"`

	// Source is the rego text.
	Source string `json:"-"`

	// Builtin marks modules shipped with the binary.
	Builtin bool `json:"builtin"`
}

// Violation is a single deny or warn result.
type Violation struct {
	// Package is the rego package that produced the result.
	Package string `json:"package"`

	// Severity is deny or warn.
	Severity Severity `json:"severity"`

	// Message is the rendered rule message.
	Message string `json:"message"`

	// ResourceID is the resource the rule is about, if it named one.
	ResourceID string `json:"resource_id,omitempty"`
}

func (v Violation) String() string {
	if v.ResourceID != "" {
		return fmt.Sprintf("[%s] %s (%s)", v.Package, v.Message, v.ResourceID)
	}
	return fmt.Sprintf("[%s] %s", v.Package, v.Message)
}

// Decision is the outcome of evaluating a plan.
type Decision struct {
	Denials  []Violation `json:"denials,omitempty"`
	Warnings []Violation `json:"warnings,omitempty"`
}

// Allowed reports whether no rule denied the plan.
func (d *Decision) Allowed() bool {
	return len(d.Denials) == 0
}

// Scope is the manifest context a plan is evaluated in.
type Scope struct {
	Project      string
	Root         string
	ExposedPorts []int
}
