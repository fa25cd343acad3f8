package domain

import (
	"strings"

	"github.com/cuemby/specvault/internal/storage/apperr"
)

var validPriorities = map[string]bool{
	PriorityCritical: true, PriorityHigh: true, PriorityMedium: true, PriorityLow: true,
}

var validCategories = map[string]bool{
	CategoryFunctional: true, CategoryNonFunctional: true, CategoryTechnical: true, CategoryBusiness: true,
}

var validSourceTypes = map[string]bool{
	SourceUserRequest: true, SourceDiscovered: true, SourceDerived: true,
}

var validSolutionStatuses = map[string]bool{
	SolutionProposed: true, SolutionSelected: true, SolutionRejected: true,
}

var validDecisionStatuses = map[string]bool{
	DecisionActive: true, DecisionSuperseded: true, DecisionReversed: true,
}

var validPhaseStatuses = map[string]bool{
	PhasePlanned: true, PhaseInProgress: true, PhaseCompleted: true, PhaseBlocked: true, PhaseSkipped: true,
}

func requireNonEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperr.Validation(field, "must not be empty", value)
	}
	return nil
}

func validatePriority(p string) error {
	if p == "" {
		return nil
	}
	if !validPriorities[p] {
		return apperr.Validation("priority", "must be one of critical, high, medium, low", p)
	}
	return nil
}

func validateCategory(c string) error {
	if c == "" {
		return nil
	}
	if !validCategories[c] {
		return apperr.Validation("category", "must be one of functional, non-functional, technical, business", c)
	}
	return nil
}

func validateSourceType(t string) error {
	if t == "" {
		return nil
	}
	if !validSourceTypes[t] {
		return apperr.Validation("source.type", "must be one of user-request, discovered, derived", t)
	}
	return nil
}

func validateOrder(order int) error {
	if order < 1 || order > 10000 {
		return apperr.Validation("order", "must be between 1 and 10000", order)
	}
	return nil
}

func validateProgress(p int) error {
	if p < 0 || p > 100 {
		return apperr.Validation("progress", "must be between 0 and 100", p)
	}
	return nil
}
