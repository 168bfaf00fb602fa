package models

import "time"

// Kind distinguishes the two tracked entity types. Numbers are unique per
// kind within a repository.
type Kind string

const (
	KindPR    Kind = "pr"
	KindIssue Kind = "issue"
)

type MessageMapping struct {
	Repo        string
	Number      int
	ChannelID   string
	MessageID   string
	ThreadID    *string
	CreatedAt   time.Time
	LastUpdated time.Time
}

type PRSnapshot struct {
	Repo         string
	Number       int
	Title        string
	URL          string
	Author       string
	Branch       string
	BaseBranch   string
	HeadSHA      string
	Additions    int
	Deletions    int
	ChangedFiles int
	State        string // "open", "closed", "merged"
	Draft        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type IssueSnapshot struct {
	Repo        string
	Number      int
	Title       string
	URL         string
	Author      string
	Labels      []string
	State       string // "open", "closed"
	StateReason string // "completed", "not_planned", "reopened" or ""
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateMerged = "merged"
)

type ReviewerStatus string

const (
	ReviewerPending  ReviewerStatus = "pending"
	ReviewerReviewed ReviewerStatus = "reviewed"
)

func (s ReviewerStatus) Valid() bool {
	return s == ReviewerPending || s == ReviewerReviewed
}

type AgentStatus string

const (
	AgentPending          AgentStatus = "pending"
	AgentApproved         AgentStatus = "approved"
	AgentChangesRequested AgentStatus = "changes_requested"
	AgentNone             AgentStatus = "none"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentPending, AgentApproved, AgentChangesRequested, AgentNone:
		return true
	}
	return false
}

type CIStatus string

const (
	CIPending   CIStatus = "pending"
	CIRunning   CIStatus = "running"
	CISuccess   CIStatus = "success"
	CIFailure   CIStatus = "failure"
	CICancelled CIStatus = "cancelled"
)

func (s CIStatus) Valid() bool {
	switch s {
	case CIPending, CIRunning, CISuccess, CIFailure, CICancelled:
		return true
	}
	return false
}

// PRStatus is the rollup of signals learned about a PR from unrelated events.
type PRStatus struct {
	Repo             string
	Number           int
	ReviewerStatus   ReviewerStatus
	ReviewerComments int
	AgentStatus      AgentStatus
	CIStatus         CIStatus
	CIWorkflow       string
	CIURL            string
	UpdatedAt        time.Time
}

type AuditLogEntry struct {
	ID           int64
	Repo         string
	EntityNumber *int
	EventType    string
	PayloadJSON  string
	CreatedAt    time.Time
}
