package config

import (
	"fmt"
	"net/url"
)

// Validator performs cross-field configuration validation after merging.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs all validation checks, returning the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateAgents(); err != nil {
		return err
	}
	if err := v.validateMaker(); err != nil {
		return err
	}
	if err := v.validateLimits(); err != nil {
		return err
	}
	return nil
}

// validateAgents checks that every configured agent is well-formed and that
// the roles the pipeline cannot run without are present. The validator role
// is optional (low mode reuses the planner); the voter is optional when
// MAKER is disabled.
func (v *Validator) validateAgents() error {
	for _, role := range v.cfg.AgentRegistry.ConfiguredRoles() {
		if !role.IsValid() {
			return NewValidationError("agent", string(role), "", ErrInvalidValue)
		}
		agent, _ := v.cfg.AgentRegistry.Get(role)
		if agent.Endpoint == "" {
			return NewValidationError("agent", string(role), "endpoint", ErrMissingRequiredField)
		}
		if _, err := url.ParseRequestURI(agent.Endpoint); err != nil {
			return NewValidationError("agent", string(role), "endpoint",
				fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		if agent.Model == "" {
			return NewValidationError("agent", string(role), "model", ErrMissingRequiredField)
		}
	}

	required := []Role{RolePreprocessor, RolePlanner, RoleCoder}
	if v.cfg.Maker.IsEnabled() {
		required = append(required, RoleVoter)
	}
	for _, role := range required {
		if !v.cfg.AgentRegistry.Has(role) {
			return NewValidationError("agent", string(role), "",
				fmt.Errorf("%w: role must be configured", ErrMissingRequiredField))
		}
	}

	if !v.cfg.ValidatorMode.IsValid() {
		return NewValidationError("validator", string(v.cfg.ValidatorMode), "mode", ErrInvalidValue)
	}

	return nil
}

// validateMaker checks voting parameters. K of 1 is allowed (single voter
// decides); N below 2 makes voting pointless, so it is rejected when the
// stage is enabled. The pool must also cover the voter budget: with
// N < 2K-1 a full round of honest voters could fail to crown a winner.
func (v *Validator) validateMaker() error {
	if !v.cfg.Maker.IsEnabled() {
		return nil
	}
	if v.cfg.Maker.NumCandidates < 2 {
		return NewValidationError("maker", "num_candidates", "",
			fmt.Errorf("%w: need at least 2 candidates, got %d", ErrInvalidValue, v.cfg.Maker.NumCandidates))
	}
	if v.cfg.Maker.VoteK < 1 {
		return NewValidationError("maker", "vote_k", "",
			fmt.Errorf("%w: need at least 1, got %d", ErrInvalidValue, v.cfg.Maker.VoteK))
	}
	if minPool := 2*v.cfg.Maker.VoteK - 1; v.cfg.Maker.NumCandidates < minPool {
		return NewValidationError("maker", "num_candidates", "",
			fmt.Errorf("%w: vote_k %d needs at least 2K-1 = %d candidates, got %d",
				ErrInvalidValue, v.cfg.Maker.VoteK, minPool, v.cfg.Maker.NumCandidates))
	}
	return nil
}

func (v *Validator) validateLimits() error {
	if v.cfg.Context.MaxTokens < 1000 {
		return NewValidationError("context", "max_tokens", "",
			fmt.Errorf("%w: minimum 1000, got %d", ErrInvalidValue, v.cfg.Context.MaxTokens))
	}
	if v.cfg.Task.MaxIterations < 1 {
		return NewValidationError("task", "max_iterations", "",
			fmt.Errorf("%w: minimum 1, got %d", ErrInvalidValue, v.cfg.Task.MaxIterations))
	}
	if v.cfg.Server.MaxInFlight < 1 {
		return NewValidationError("server", "max_in_flight", "",
			fmt.Errorf("%w: minimum 1, got %d", ErrInvalidValue, v.cfg.Server.MaxInFlight))
	}
	return nil
}
