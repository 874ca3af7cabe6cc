package approval

import (
	"time"
)

// Embed colours.
const (
	ColorPending = 0x3498db
	ColorRetry   = 0x607d8b
	ColorCommit  = 0x2ecc71
	ColorReject  = 0xe74c3c
	ColorNoVotes = 0xe67e22
)

// DefaultFooter is shown while a proposal waits for votes.
const DefaultFooter = "Does this look correct?"

// Field is one name/value row of an embed.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is the renderable summary of a pending change.
type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Footer      string  `json:"footer,omitempty"`
}

// AddField appends a row, skipping empty values.
func (e *Embed) AddField(name, value string, inline bool) {
	if value == "" {
		return
	}
	e.Fields = append(e.Fields, Field{Name: name, Value: value, Inline: inline})
}

// Attachment is an image shown with the embed.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// Proposal is what an executor publishes for human review. A proposal with no
// Embed is a plain announcement and never produces a verdict.
type Proposal struct {
	TaskID     string      `json:"task_id"`
	ChannelRef string      `json:"channel_ref"`
	Kind       string      `json:"kind,omitempty"`
	ObjectKey  string      `json:"object_key,omitempty"`
	Embed      *Embed      `json:"embed,omitempty"`
	Message    string      `json:"message,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ExpectsVerdict reports whether the notifier collects votes for p.
func (p Proposal) ExpectsVerdict() bool {
	return p.Embed != nil
}

// Votes counts reactions by affordance.
type Votes struct {
	Approve int `json:"approve"`
	Reject  int `json:"reject"`
	Retry   int `json:"retry"`
}

// Total is the number of counted reactions.
func (v Votes) Total() int {
	return v.Approve + v.Reject + v.Retry
}

// Verdict is the tallied outcome of one approval round.
type Verdict struct {
	TaskID string `json:"task_id"`
	Votes
	DecidedAt time.Time `json:"decided_at"`
}

// Outcome is what the executor does with a verdict.
type Outcome int

const (
	// OutcomeDraft commits as an unconfirmed revision.
	OutcomeDraft Outcome = iota
	// OutcomeCommit commits as confirmed.
	OutcomeCommit
	// OutcomeRetry resets the attempt counter and releases the lease.
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommit:
		return "commit"
	case OutcomeRetry:
		return "retry"
	default:
		return "draft"
	}
}

// Decision is the outcome plus its reason, for logging.
type Decision struct {
	Outcome   Outcome
	Confirmed bool
	Reason    string
}

// Decide applies the approval policy. Any retry vote wins; otherwise a strict
// approve majority commits as confirmed, and everything else, including a
// window with no votes or no verdict at all, is drafted unconfirmed.
func Decide(v Verdict, received bool) Decision {
	switch {
	case v.Retry > 0:
		return Decision{Outcome: OutcomeRetry, Reason: "retry requested"}
	case v.Approve > v.Reject:
		return Decision{Outcome: OutcomeCommit, Confirmed: true, Reason: "approved"}
	case !received:
		return Decision{Outcome: OutcomeDraft, Reason: "no verdict before timeout"}
	case v.Total() == 0:
		return Decision{Outcome: OutcomeDraft, Reason: "no votes"}
	default:
		return Decision{Outcome: OutcomeDraft, Reason: "rejected"}
	}
}

// Status is the footer shown once a proposal is resolved.
type Status struct {
	Footer string
	Color  int
}

// StatusFor renders the resolved footer for a verdict.
func StatusFor(v Verdict) Status {
	switch {
	case v.Retry > 0:
		return Status{Footer: "Okay, I'll try again.", Color: ColorRetry}
	case v.Approve > v.Reject:
		return Status{Footer: "Thanks for confirming! Updating the site now.", Color: ColorCommit}
	case v.Total() == 0:
		return Status{Footer: "No votes received, saving an unconfirmed revision.", Color: ColorNoVotes}
	default:
		return Status{Footer: "Rejected, saving an unconfirmed revision.", Color: ColorReject}
	}
}
