// Package models holds the value types that flow through the orchestration
// pipeline. They are produced once per stage and never mutated downstream.
package models

import "time"

// Role identifies the caller's role, carried from the JWT into every stage.
type Role string

const (
	RoleOperator Role = "OPERATOR"
	RoleCarrier  Role = "CARRIER"
	RoleCustomer Role = "CUSTOMER"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOperator, RoleCarrier, RoleCustomer:
		return true
	}
	return false
}

// Speaker distinguishes the two sides of a conversation turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Turn is one entry in a session's conversation history. Immutable once
// appended; ordering defines the context fed to classifier and synthesizer.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionMeta is the per-message context the sanitizer receives. It carries
// identity only; the sanitizer must not touch session state.
type SessionMeta struct {
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
}

// SanitizedInput is the sanitizer's output, consumed by the classifier.
type SanitizedInput struct {
	OriginalText      string      `json:"original_text"`
	SanitizedText     string      `json:"sanitized_text"`
	DetectedLanguage  string      `json:"detected_language"`
	InjectionDetected bool        `json:"injection_detected"`
	RemovedPatterns   []string    `json:"removed_patterns,omitempty"`
	ValidationErrors  []string    `json:"validation_errors,omitempty"`
	SessionMeta       SessionMeta `json:"session_meta"`
}

// Category is one label from the closed intent taxonomy.
type Category string

const (
	CategoryBookingCreate  Category = "booking-create"
	CategoryBookingStatus  Category = "booking-status"
	CategoryBookingUpdate  Category = "booking-update"
	CategoryBookingCancel  Category = "booking-cancel"
	CategoryBookingApprove Category = "booking-approve"
	CategorySlotQuery      Category = "slot-query"
	CategoryCapacityQuery  Category = "capacity-query"
	CategoryGeneralHelp    Category = "general-help"
	CategoryOutOfScope     Category = "out-of-scope"
)

// Capability names an abstract ability a classification binds to. The three
// sentinel capabilities never reach the agent bridge.
type Capability string

const (
	CapabilityBooking       Capability = "booking"
	CapabilitySlots         Capability = "slots"
	CapabilityNone          Capability = "none"
	CapabilityForbidden     Capability = "forbidden"
	CapabilityClarification Capability = "clarification-needed"
)

// IntentClassification labels sanitized input with a category and the
// capability that will serve it.
type IntentClassification struct {
	Category         Category   `json:"category"`
	Confidence       float64    `json:"confidence"`
	TargetCapability Capability `json:"target_capability"`
}

// SubTask is one unit of planned work, bound to exactly one capability and
// tool. DependsOn references sibling sub-task IDs within the same plan.
type SubTask struct {
	ID         string            `json:"id"`
	Capability Capability        `json:"capability"`
	ToolName   string            `json:"tool_name"`
	Args       map[string]string `json:"args,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty"`
}

// PlanTag marks why a plan is empty; executable plans carry PlanExecute.
type PlanTag string

const (
	PlanExecute       PlanTag = "execute"
	PlanNoTool        PlanTag = "no-tool"
	PlanForbidden     PlanTag = "forbidden"
	PlanClarification PlanTag = "clarification"
)

// TaskPlan is an ordered, acyclic set of sub-tasks. An empty sub-task list is
// valid and its Tag says how the synthesizer should respond.
type TaskPlan struct {
	Tag      PlanTag   `json:"tag"`
	SubTasks []SubTask `json:"sub_tasks,omitempty"`
}

// ToolResult records the outcome of one sub-task. Failed sub-tasks retain the
// last error after retries; skipped sub-tasks were never attempted.
type ToolResult struct {
	SubTaskID  string            `json:"sub_task_id"`
	ToolName   string            `json:"tool_name"`
	Success    bool              `json:"success"`
	Data       map[string]string `json:"data,omitempty"`
	Err        string            `json:"error,omitempty"`
	Skipped    bool              `json:"skipped,omitempty"`
	SkipReason string            `json:"skip_reason,omitempty"`
	Latency    time.Duration     `json:"latency"`
	Attempts   int               `json:"attempts"`
}

// SynthesizedOutput is the candidate response. It is not released until the
// guard approves it.
type SynthesizedOutput struct {
	Text              string            `json:"text"`
	StructuredPayload map[string]string `json:"structured_payload,omitempty"`
	UsedTools         []string          `json:"used_tools,omitempty"`
}

// Redaction describes one span the guard replaced in the released text.
type Redaction struct {
	Rule    string `json:"rule"`
	Matched string `json:"matched"`
}

// ValidationVerdict is the guard's final decision. Only an approved verdict's
// text may be returned to the caller.
type ValidationVerdict struct {
	Approved   bool              `json:"approved"`
	Text       string            `json:"text"`
	Payload    map[string]string `json:"payload,omitempty"`
	Redactions []Redaction       `json:"redactions,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}
