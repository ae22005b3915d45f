package config

// Role identifies an agent role in the pipeline.
// The set is closed: stage implementations refer to roles by tag and the
// registry rejects unknown names.
type Role string

const (
	// RolePreprocessor classifies and normalizes the raw user request.
	RolePreprocessor Role = "preprocessor"
	// RolePlanner produces the plan (or the direct answer for questions).
	RolePlanner Role = "planner"
	// RoleCoder generates candidate code.
	RoleCoder Role = "coder"
	// RoleVoter emits a single candidate label during MAKER voting.
	RoleVoter Role = "voter"
	// RoleValidator reviews generated code against the task and plan.
	RoleValidator Role = "validator"
)

// Roles lists all agent roles in pipeline order.
var Roles = []Role{RolePreprocessor, RolePlanner, RoleCoder, RoleVoter, RoleValidator}

// IsValid checks if the role is a known agent role.
func (r Role) IsValid() bool {
	switch r {
	case RolePreprocessor, RolePlanner, RoleCoder, RoleVoter, RoleValidator:
		return true
	default:
		return false
	}
}

// ValidatorMode selects the reviewing implementation.
type ValidatorMode string

const (
	// ValidatorModeHigh uses the dedicated Validator agent.
	ValidatorModeHigh ValidatorMode = "high"
	// ValidatorModeLow reuses the Planner endpoint with a reflection prompt.
	ValidatorModeLow ValidatorMode = "low"
)

// IsValid checks if the validator mode is valid.
func (m ValidatorMode) IsValid() bool {
	return m == ValidatorModeHigh || m == ValidatorModeLow
}
