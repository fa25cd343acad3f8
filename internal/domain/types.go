// Package domain defines the planning entity types and the services that
// enforce cross-entity invariants on top of the storage engine
// (internal/storage/repo, internal/storage/plan, internal/storage/history).
package domain

// Entity kind tags, used as the `type` discriminator on every record and
// as directory/file-name prefixes under entities/, indexes/ and history/.
const (
	TypeRequirement = "requirement"
	TypeSolution    = "solution"
	TypeDecision    = "decision"
	TypePhase       = "phase"
	TypeArtifact    = "artifact"
)

// Priority ranks, used both for field validation and for the explicit
// semantic-priority sort rank (critical=4 ... low=1).
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// PriorityRank returns the explicit sort rank for a priority value, or 0
// if it isn't one of the four known values (sorts lowest).
func PriorityRank(p string) int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Requirement categories.
const (
	CategoryFunctional    = "functional"
	CategoryNonFunctional = "non-functional"
	CategoryTechnical     = "technical"
	CategoryBusiness      = "business"
)

// Requirement source kinds.
const (
	SourceUserRequest = "user-request"
	SourceDiscovered  = "discovered"
	SourceDerived     = "derived"
)

// Solution statuses.
const (
	SolutionProposed = "proposed"
	SolutionSelected = "selected"
	SolutionRejected = "rejected"
)

// Decision statuses.
const (
	DecisionActive     = "active"
	DecisionSuperseded = "superseded"
	DecisionReversed   = "reversed"
)

// Phase statuses.
const (
	PhasePlanned    = "planned"
	PhaseInProgress = "in_progress"
	PhaseCompleted  = "completed"
	PhaseBlocked    = "blocked"
	PhaseSkipped    = "skipped"
)

// Plan statuses, Tag, Statistics, PlanManifest, ProjectConfig,
// ReservedOSNames and LegacyProjectSentinel live in
// internal/storage/plan, and link relation types live in
// internal/storage/repo (see common.go's re-exports), so those packages
// never need to import this one back.

// Metadata is the base-contract metadata bag shared by every entity.
type Metadata struct {
	CreatedBy   string `json:"createdBy,omitempty"`
	Tags        []Tag  `json:"tags,omitempty"`
	Annotations []any  `json:"annotations,omitempty"`
}

// Base is embedded by every entity kind and carries the fields common to
// all of them: identity, timestamps, optimistic-concurrency version, and
// metadata.
type Base struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
	Version   int      `json:"version"`
	Metadata  Metadata `json:"metadata"`
}

func (b *Base) GetID() string        { return b.ID }
func (b *Base) GetType() string      { return b.Type }
func (b *Base) GetVersion() int      { return b.Version }
func (b *Base) SetVersion(v int)     { b.Version = v }
func (b *Base) GetCreatedAt() string { return b.CreatedAt }
func (b *Base) SetCreatedAt(s string) { b.CreatedAt = s }
func (b *Base) GetUpdatedAt() string  { return b.UpdatedAt }
func (b *Base) SetUpdatedAt(s string) { b.UpdatedAt = s }

// RequirementSource records where a requirement came from.
type RequirementSource struct {
	Type     string `json:"type"`
	Context  string `json:"context,omitempty"`
	ParentID string `json:"parentId,omitempty"`
}

// Requirement is a single planning requirement.
//
// DueDate and Owner are supplemented fields not present in the
// distillation's minimal field list but present in richer planning-tool
// schemas of this shape; they follow the same forward-compatible,
// optional-field pattern as every other field here.
type Requirement struct {
	Base
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Rationale          string            `json:"rationale,omitempty"`
	Priority           string            `json:"priority"`
	Category           string            `json:"category"`
	Status             string            `json:"status"`
	Votes              int               `json:"votes"`
	Source             RequirementSource `json:"source"`
	AcceptanceCriteria []string          `json:"acceptanceCriteria,omitempty"`
	DueDate            string            `json:"dueDate,omitempty"`
	Owner              string            `json:"owner,omitempty"`
}

// Tradeoff is one row of a solution's pros/cons/score tradeoff table.
type Tradeoff struct {
	Aspect string   `json:"aspect"`
	Pros   []string `json:"pros,omitempty"`
	Cons   []string `json:"cons,omitempty"`
	Score  *float64 `json:"score,omitempty"`
}

// Effort is an estimate with a unit and confidence qualifier.
type Effort struct {
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Confidence string  `json:"confidence,omitempty"`
}

// Evaluation is a solution's feasibility/risk/effort assessment.
type Evaluation struct {
	EffortEstimate       Effort `json:"effortEstimate"`
	TechnicalFeasibility string `json:"technicalFeasibility,omitempty"`
	RiskAssessment       string `json:"riskAssessment,omitempty"`
}

// Solution proposes an approach to one or more requirements.
type Solution struct {
	Base
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Approach             string     `json:"approach"`
	ImplementationNotes  string     `json:"implementationNotes,omitempty"`
	Tradeoffs            []Tradeoff `json:"tradeoffs,omitempty"`
	Addressing           []string   `json:"addressing"`
	Evaluation           Evaluation `json:"evaluation"`
	Status               string     `json:"status"`
	SelectionReason      string     `json:"selectionReason,omitempty"`
}

// Alternative is one rejected option recorded on a Decision.
type Alternative struct {
	Option        string `json:"option"`
	Reasoning     string `json:"reasoning,omitempty"`
	WhyNotChosen  string `json:"whyNotChosen,omitempty"`
}

// Decision records a choice and, optionally, what superseded or was
// superseded by it.
type Decision struct {
	Base
	Title                  string        `json:"title"`
	Question               string        `json:"question"`
	Context                string        `json:"context"`
	Decision               string        `json:"decision"`
	AlternativesConsidered []Alternative `json:"alternativesConsidered,omitempty"`
	Consequences           string        `json:"consequences,omitempty"`
	ImpactScope            string        `json:"impactScope,omitempty"`
	Status                 string        `json:"status"`
	Supersedes             string        `json:"supersedes,omitempty"`
	SupersededBy           string        `json:"supersededBy,omitempty"`
}

// Phase is a node in the plan's work-breakdown tree.
type Phase struct {
	Base
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	ParentID         string   `json:"parentId,omitempty"`
	Order            int      `json:"order"`
	Path             string   `json:"path"`
	Depth            int      `json:"depth"`
	Objectives       []string `json:"objectives,omitempty"`
	Deliverables     []string `json:"deliverables,omitempty"`
	SuccessCriteria  []string `json:"successCriteria,omitempty"`
	Status           string   `json:"status"`
	Progress         int      `json:"progress"`
	EstimatedEffort  string   `json:"estimatedEffort,omitempty"`
	Priority         string   `json:"priority,omitempty"`
}

// Target is one file-level action an artifact describes.
type Target struct {
	Path          string `json:"path"`
	Action        string `json:"action"`
	LineNumber    *int   `json:"lineNumber,omitempty"`
	LineEnd       *int   `json:"lineEnd,omitempty"`
	SearchPattern string `json:"searchPattern,omitempty"`
	Description   string `json:"description,omitempty"`
}

// ArtifactContent is an artifact's optional heavy payload (source code),
// lazy-loaded by the tool adapter and never returned by list operations.
type ArtifactContent struct {
	Language   string `json:"language,omitempty"`
	SourceCode string `json:"sourceCode,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

// Artifact is a concrete output (a file change, a generated document)
// attached to a plan.
//
// Checksum is a supplemented field. It is stored as given; no service
// computes or checks it.
type Artifact struct {
	Base
	Title                 string          `json:"title"`
	Description           string          `json:"description,omitempty"`
	Slug                  string          `json:"slug"`
	ArtifactType          string          `json:"artifactType"`
	Status                string          `json:"status"`
	Content               ArtifactContent `json:"content,omitempty"`
	Targets               []Target        `json:"targets,omitempty"`
	RelatedPhaseID        string          `json:"relatedPhaseId,omitempty"`
	RelatedSolutionID     string          `json:"relatedSolutionId,omitempty"`
	RelatedRequirementIDs []string        `json:"relatedRequirementIds,omitempty"`
	CodeRefs              []string        `json:"codeRefs,omitempty"`
	Checksum              string          `json:"checksum,omitempty"`

	// FileTable is the legacy field name for Targets. Read by the
	// Artifact service's auto-migration and never written back.
	FileTable []Target `json:"fileTable,omitempty"`
}

