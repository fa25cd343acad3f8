package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"gopkg.in/yaml.v3"
)

// QueryService implements spec.md §4.7's cross-cutting query actions:
// search, trace, validate, export, health.
type QueryService struct {
	factory *Factory
}

func NewQueryService(f *Factory) *QueryService {
	return &QueryService{factory: f}
}

// SearchHit is one search result: the entity type tag and the matching
// entity itself.
type SearchHit struct {
	EntityType string
	Entity     any
}

// Search performs SQL-LIKE matching of query over each matched entity
// type's title/description. `%` matches any run of characters, `_`
// matches exactly one, everything else is literal; matching is
// case-insensitive and an empty pattern matches everything.
func (s *QueryService) Search(ctx context.Context, projectID, planID, query string, entityTypes []string) ([]SearchHit, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	pattern := likeToRegexp(query)

	types := entityTypes
	if len(types) == 0 {
		types = []string{TypeRequirement, TypeSolution, TypeDecision, TypePhase, TypeArtifact}
	}

	var hits []SearchHit
	for _, t := range types {
		switch t {
		case TypeRequirement:
			all, err := store.Requirements.FindAll(ctx)
			if err != nil {
				return nil, err
			}
			for _, e := range all {
				if pattern.MatchString(e.Title) || pattern.MatchString(e.Description) {
					hits = append(hits, SearchHit{EntityType: t, Entity: e})
				}
			}
		case TypeSolution:
			all, err := store.Solutions.FindAll(ctx)
			if err != nil {
				return nil, err
			}
			for _, e := range all {
				if pattern.MatchString(e.Title) || pattern.MatchString(e.Description) {
					hits = append(hits, SearchHit{EntityType: t, Entity: e})
				}
			}
		case TypeDecision:
			all, err := store.Decisions.FindAll(ctx)
			if err != nil {
				return nil, err
			}
			for _, e := range all {
				if pattern.MatchString(e.Title) || pattern.MatchString(e.Question) {
					hits = append(hits, SearchHit{EntityType: t, Entity: e})
				}
			}
		case TypePhase:
			all, err := store.Phases.FindAll(ctx)
			if err != nil {
				return nil, err
			}
			for _, e := range all {
				if pattern.MatchString(e.Title) || pattern.MatchString(e.Description) {
					hits = append(hits, SearchHit{EntityType: t, Entity: e})
				}
			}
		case TypeArtifact:
			all, err := store.Artifacts.FindAll(ctx)
			if err != nil {
				return nil, err
			}
			for _, e := range all {
				if pattern.MatchString(e.Title) || pattern.MatchString(e.Description) {
					hits = append(hits, SearchHit{EntityType: t, Entity: e})
				}
			}
		case "link":
			all, err := store.Links.FindAllLinks(ctx, "")
			if err != nil {
				return nil, err
			}
			for _, e := range all {
				hits = append(hits, SearchHit{EntityType: t, Entity: e})
			}
		}
	}
	return hits, nil
}

var likeSpecial = regexp.MustCompile(`[.+*?()|\[\]{}^$\\]`)

// likeToRegexp compiles a SQL-LIKE pattern (`%` any run, `_` one char,
// everything else literal) into a case-insensitive, fully-anchored
// regexp. An empty pattern matches everything, not just the empty
// string.
func likeToRegexp(pattern string) *regexp.Regexp {
	if pattern == "" {
		return regexp.MustCompile("(?s).*")
	}
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			s := string(r)
			if likeSpecial.MatchString(s) {
				b.WriteString(regexp.QuoteMeta(s))
			} else {
				b.WriteString(s)
			}
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return regexp.MustCompile("$^")
	}
	return re
}

// TraceResult is the walk trace() produces from a requirement.
type TraceResult struct {
	Requirement *Requirement
	Solutions   []*Solution
	Phases      []*Phase
	Artifacts   []*Artifact
}

// Trace walks requirement -> implementing solutions -> addressing
// phases -> attached artifacts, via the link graph and the
// addressing/relatedRequirementIds fields.
func (s *QueryService) Trace(ctx context.Context, projectID, planID, requirementID string) (*TraceResult, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	req, err := store.Requirements.FindByID(ctx, requirementID)
	if err != nil {
		return nil, err
	}

	allSolutions, err := store.Solutions.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	implementLinks, err := store.Links.FindLinksByTarget(ctx, requirementID, RelImplements)
	if err != nil {
		return nil, err
	}
	implementers := make(map[string]bool, len(implementLinks))
	for _, l := range implementLinks {
		implementers[l.SourceID] = true
	}
	var solutions []*Solution
	for _, sol := range allSolutions {
		if implementers[sol.ID] {
			solutions = append(solutions, sol)
			continue
		}
		for _, addr := range sol.Addressing {
			if addr == requirementID {
				solutions = append(solutions, sol)
				break
			}
		}
	}

	allPhases, err := store.Phases.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	solutionIDs := make(map[string]bool, len(solutions))
	for _, sol := range solutions {
		solutionIDs[sol.ID] = true
	}
	addressLinks, err := store.Links.FindAllLinks(ctx, RelAddresses)
	if err != nil {
		return nil, err
	}
	phaseIDs := make(map[string]bool)
	for _, l := range addressLinks {
		if solutionIDs[l.TargetID] {
			phaseIDs[l.SourceID] = true
		}
	}
	var phases []*Phase
	for _, p := range allPhases {
		if phaseIDs[p.ID] {
			phases = append(phases, p)
		}
	}

	allArtifacts, err := store.Artifacts.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	phaseIDSet := make(map[string]bool, len(phases))
	for _, p := range phases {
		phaseIDSet[p.ID] = true
	}
	var artifacts []*Artifact
	for _, a := range allArtifacts {
		if phaseIDSet[a.RelatedPhaseID] {
			artifacts = append(artifacts, a)
			continue
		}
		for _, rid := range a.RelatedRequirementIDs {
			if rid == requirementID {
				artifacts = append(artifacts, a)
				break
			}
		}
	}

	return &TraceResult{Requirement: req, Solutions: solutions, Phases: phases, Artifacts: artifacts}, nil
}

// ValidationIssue is one finding from validate().
type ValidationIssue struct {
	Kind     string
	EntityID string
	Message  string
}

// Validate checks: uncovered requirements, orphan solutions, broken link
// endpoints, phase cycles (should be zero), missing required fields.
// level=strict additionally treats uncovered requirements and orphan
// solutions as issues; level=basic reports only structural problems
// (broken links, cycles, missing fields).
func (s *QueryService) Validate(ctx context.Context, projectID, planID, level string) ([]ValidationIssue, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	var issues []ValidationIssue

	reqs, err := store.Requirements.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	sols, err := store.Solutions.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	phases, err := store.Phases.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	links, err := store.Links.FindAllLinks(ctx, "")
	if err != nil {
		return nil, err
	}

	exists := func(id string) bool {
		return store.Requirements.Exists(ctx, id) || store.Solutions.Exists(ctx, id) ||
			store.Decisions.Exists(ctx, id) || store.Phases.Exists(ctx, id) || store.Artifacts.Exists(ctx, id)
	}
	for _, l := range links {
		if !exists(l.SourceID) {
			issues = append(issues, ValidationIssue{Kind: "broken_link", EntityID: l.ID, Message: fmt.Sprintf("source %s does not exist", l.SourceID)})
		}
		if !exists(l.TargetID) {
			issues = append(issues, ValidationIssue{Kind: "broken_link", EntityID: l.ID, Message: fmt.Sprintf("target %s does not exist", l.TargetID)})
		}
	}

	adjacency := make(map[string][]string)
	for _, p := range phases {
		if p.ParentID != "" {
			adjacency[p.ParentID] = append(adjacency[p.ParentID], p.ID)
		}
	}
	visiting := make(map[string]int)
	var dfs func(id string) bool
	dfs = func(id string) bool {
		if visiting[id] == 1 {
			return true
		}
		if visiting[id] == 2 {
			return false
		}
		visiting[id] = 1
		for _, next := range adjacency[id] {
			if dfs(next) {
				return true
			}
		}
		visiting[id] = 2
		return false
	}
	for _, p := range phases {
		if dfs(p.ID) {
			issues = append(issues, ValidationIssue{Kind: "phase_cycle", EntityID: p.ID, Message: "phase tree contains a cycle"})
			break
		}
	}

	for _, r := range reqs {
		if r.Title == "" {
			issues = append(issues, ValidationIssue{Kind: "missing_field", EntityID: r.ID, Message: "title is required"})
		}
	}

	if level == "strict" {
		addressed := make(map[string]bool)
		for _, sol := range sols {
			for _, rid := range sol.Addressing {
				addressed[rid] = true
			}
		}
		for _, r := range reqs {
			if !addressed[r.ID] {
				issues = append(issues, ValidationIssue{Kind: "uncovered_requirement", EntityID: r.ID, Message: "no solution addresses this requirement"})
			}
		}
		for _, sol := range sols {
			if len(sol.Addressing) == 0 {
				issues = append(issues, ValidationIssue{Kind: "orphan_solution", EntityID: sol.ID, Message: "solution addresses no requirement"})
				continue
			}
			anyExists := false
			for _, rid := range sol.Addressing {
				if store.Requirements.Exists(ctx, rid) {
					anyExists = true
					break
				}
			}
			if !anyExists {
				issues = append(issues, ValidationIssue{Kind: "orphan_solution", EntityID: sol.ID, Message: "every addressed requirement is missing"})
			}
		}
	}

	return issues, nil
}

// Export renders the plan's entities in the requested format, limited
// to sections when non-empty.
func (s *QueryService) Export(ctx context.Context, projectID, planID, format string, sections []string) (string, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return "", err
	}
	want := func(section string) bool {
		if len(sections) == 0 {
			return true
		}
		for _, s := range sections {
			if s == section {
				return true
			}
		}
		return false
	}

	reqs, err := store.Requirements.FindAll(ctx)
	if err != nil {
		return "", err
	}
	sols, err := store.Solutions.FindAll(ctx)
	if err != nil {
		return "", err
	}
	decs, err := store.Decisions.FindAll(ctx)
	if err != nil {
		return "", err
	}
	phases, err := store.Phases.FindAll(ctx)
	if err != nil {
		return "", err
	}
	arts, err := store.Artifacts.FindAll(ctx)
	if err != nil {
		return "", err
	}

	switch format {
	case "json":
		return exportJSON(want, reqs, sols, decs, phases, arts)
	case "yaml":
		return exportYAML(want, reqs, sols, decs, phases, arts)
	case "markdown":
		return exportMarkdown(want, reqs, sols, decs, phases, arts), nil
	default:
		return "", apperr.Validation("format", "must be markdown, json or yaml", format)
	}
}

func exportDoc(want func(string) bool, reqs []*Requirement, sols []*Solution, decs []*Decision, phases []*Phase, arts []*Artifact) map[string]any {
	doc := map[string]any{}
	if want("requirements") {
		doc["requirements"] = reqs
	}
	if want("solutions") {
		doc["solutions"] = sols
	}
	if want("decisions") {
		doc["decisions"] = decs
	}
	if want("phases") {
		doc["phases"] = phases
	}
	if want("artifacts") {
		doc["artifacts"] = arts
	}
	return doc
}

func exportJSON(want func(string) bool, reqs []*Requirement, sols []*Solution, decs []*Decision, phases []*Phase, arts []*Artifact) (string, error) {
	data, err := json.MarshalIndent(exportDoc(want, reqs, sols, decs, phases, arts), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func exportYAML(want func(string) bool, reqs []*Requirement, sols []*Solution, decs []*Decision, phases []*Phase, arts []*Artifact) (string, error) {
	data, err := yaml.Marshal(exportDoc(want, reqs, sols, decs, phases, arts))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func exportMarkdown(want func(string) bool, reqs []*Requirement, sols []*Solution, decs []*Decision, phases []*Phase, arts []*Artifact) string {
	var b strings.Builder
	if want("requirements") && len(reqs) > 0 {
		b.WriteString("## Requirements\n\n")
		for _, r := range reqs {
			fmt.Fprintf(&b, "- **%s** (%s, %s): %s\n", r.Title, r.Priority, r.Status, r.Description)
		}
		b.WriteString("\n")
	}
	if want("solutions") && len(sols) > 0 {
		b.WriteString("## Solutions\n\n")
		for _, sol := range sols {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", sol.Title, sol.Status, sol.Description)
		}
		b.WriteString("\n")
	}
	if want("decisions") && len(decs) > 0 {
		b.WriteString("## Decisions\n\n")
		for _, d := range decs {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", d.Title, d.Status, d.Decision)
		}
		b.WriteString("\n")
	}
	if want("phases") && len(phases) > 0 {
		b.WriteString("## Phases\n\n")
		for _, p := range phases {
			fmt.Fprintf(&b, "- **%s** [%s] %d%%\n", p.Title, p.Status, p.Progress)
		}
		b.WriteString("\n")
	}
	if want("artifacts") && len(arts) > 0 {
		b.WriteString("## Artifacts\n\n")
		for _, a := range arts {
			fmt.Fprintf(&b, "- **%s** (%s)\n", a.Title, a.Slug)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// HealthReport summarizes entity counts and completion percentage.
type HealthReport struct {
	Statistics Statistics
	IssueCount int
}

// Health summarizes counts and completion percentage for the plan.
func (s *QueryService) Health(ctx context.Context, projectID, planID string) (*HealthReport, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	manifest, err := store.Plans.GetPlan(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	issues, err := s.Validate(ctx, projectID, planID, "basic")
	if err != nil {
		return nil, err
	}
	return &HealthReport{Statistics: manifest.Statistics, IssueCount: len(issues)}, nil
}
