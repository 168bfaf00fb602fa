// Package footer embeds a status snapshot in the footer of a posted message
// so status can be rebuilt from the channel alone.
//
// The wire form is Prefix followed by compact JSON:
//
//	hookrelay:v1:{"t":"pr","ci":"success","rv":"reviewed","rc":2,"ag":"approved"}
//	hookrelay:v1:{"t":"issue"}
//
// Any change to the JSON shape must bump the prefix; text carrying another
// prefix decodes to nil.
package footer

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/esnunes/hookrelay/internal/models"
)

const Prefix = "hookrelay:v1:"

// Snapshot is the recoverable status of one entity. PR is set only for
// Kind == models.KindPR.
type Snapshot struct {
	Kind models.Kind
	PR   *PRState
}

type PRState struct {
	CI               models.CIStatus
	Reviewer         models.ReviewerStatus
	ReviewerComments *int
	Agent            models.AgentStatus
}

type wire struct {
	Kind     models.Kind           `json:"t"`
	CI       models.CIStatus       `json:"ci,omitempty"`
	Reviewer models.ReviewerStatus `json:"rv,omitempty"`
	Comments *int                  `json:"rc,omitempty"`
	Agent    models.AgentStatus    `json:"ag,omitempty"`
}

// FromStatus builds the PR snapshot for a stored status. A nil status
// encodes the defaults.
func FromStatus(st *models.PRStatus) Snapshot {
	if st == nil {
		return Snapshot{Kind: models.KindPR, PR: &PRState{
			CI:       models.CIPending,
			Reviewer: models.ReviewerPending,
			Agent:    models.AgentPending,
		}}
	}
	state := &PRState{CI: st.CIStatus, Reviewer: st.ReviewerStatus, Agent: st.AgentStatus}
	if st.ReviewerStatus == models.ReviewerReviewed {
		n := st.ReviewerComments
		state.ReviewerComments = &n
	}
	return Snapshot{Kind: models.KindPR, PR: state}
}

// Issue is the snapshot for an issue message.
func Issue() Snapshot {
	return Snapshot{Kind: models.KindIssue}
}

// Encode renders s for a message footer.
func Encode(s Snapshot) string {
	w := wire{Kind: s.Kind}
	if s.Kind == models.KindPR && s.PR != nil {
		w.CI = s.PR.CI
		w.Reviewer = s.PR.Reviewer
		w.Comments = s.PR.ReviewerComments
		w.Agent = s.PR.Agent
	}
	b, _ := json.Marshal(w)
	return Prefix + string(b)
}

// Decode parses footer text. It returns nil for foreign, truncated or
// malformed input; footers of arbitrary channel messages end up here.
func Decode(text string) *Snapshot {
	payload, ok := strings.CutPrefix(text, Prefix)
	if !ok {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return nil
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil
	}

	switch w.Kind {
	case models.KindIssue:
		if w.CI != "" || w.Reviewer != "" || w.Comments != nil || w.Agent != "" {
			return nil
		}
		s := Issue()
		return &s
	case models.KindPR:
		if !w.CI.Valid() || !w.Reviewer.Valid() || !w.Agent.Valid() {
			return nil
		}
		if w.Comments != nil && *w.Comments < 0 {
			return nil
		}
		return &Snapshot{Kind: models.KindPR, PR: &PRState{
			CI:               w.CI,
			Reviewer:         w.Reviewer,
			ReviewerComments: w.Comments,
			Agent:            w.Agent,
		}}
	}
	return nil
}
