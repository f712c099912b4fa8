package request

import "github.com/theradocs/theradocs/internal/platform/auth"

// Status is the workflow discriminator. Only engine transitions mutate it.
type Status string

const (
	StatusCreated              Status = "CREATED"
	StatusAuthorAssigned       Status = "AUTHOR_ASSIGNED"
	StatusPendingContentReview Status = "PENDING_CONTENT_REVIEW"
	StatusContentRejected      Status = "CONTENT_REJECTED"
	StatusPendingDocument      Status = "PENDING_DOCUMENT"
	StatusPendingSignature     Status = "PENDING_SIGNATURE"
	StatusSigned               Status = "SIGNED"
	StatusAccepted             Status = "ACCEPTED"
)

var allStatuses = map[Status]bool{
	StatusCreated:              true,
	StatusAuthorAssigned:       true,
	StatusPendingContentReview: true,
	StatusContentRejected:      true,
	StatusPendingDocument:      true,
	StatusPendingSignature:     true,
	StatusSigned:               true,
	StatusAccepted:             true,
}

// Valid reports whether s is a defined workflow status.
func (s Status) Valid() bool { return allStatuses[s] }

// Terminal reports whether s ends the workflow.
func (s Status) Terminal() bool { return s == StatusAccepted }

// Event names a workflow transition.
type Event string

const (
	EventAssignAuthor   Event = "assignAuthor"
	EventSubmitContent  Event = "submitContent"
	EventApproveContent Event = "approveContent"
	EventRejectContent  Event = "rejectContent"
	EventAttachDocument Event = "attachDocument"
	EventSignDocument   Event = "signDocument"
	EventAcceptFinal    Event = "acceptFinal"
	EventRejectFinal    Event = "rejectFinal"
)

// rule describes a single row of the transition table. To is empty for
// attachDocument, whose target depends on the signing mode.
type rule struct {
	From  []Status
	Actor string
	To    Status
}

func (r rule) allows(from Status) bool {
	for _, s := range r.From {
		if s == from {
			return true
		}
	}
	return false
}

// transitions is the single source of transition legality. Every engine
// operation consults it; nothing else decides what is reachable from where.
var transitions = map[Event]rule{
	EventAssignAuthor: {
		From:  []Status{StatusCreated},
		Actor: auth.RoleAdmin,
		To:    StatusAuthorAssigned,
	},
	EventSubmitContent: {
		From:  []Status{StatusAuthorAssigned, StatusContentRejected},
		Actor: auth.RoleTherapist,
		To:    StatusPendingContentReview,
	},
	EventApproveContent: {
		From:  []Status{StatusPendingContentReview},
		Actor: auth.RoleAdmin,
		To:    StatusPendingDocument,
	},
	EventRejectContent: {
		From:  []Status{StatusPendingContentReview},
		Actor: auth.RoleAdmin,
		To:    StatusContentRejected,
	},
	EventAttachDocument: {
		From:  []Status{StatusPendingDocument},
		Actor: auth.RoleAdmin,
	},
	EventSignDocument: {
		From:  []Status{StatusPendingSignature},
		Actor: auth.RoleTherapist,
		To:    StatusSigned,
	},
	EventAcceptFinal: {
		From:  []Status{StatusSigned},
		Actor: auth.RoleAdmin,
		To:    StatusAccepted,
	},
	EventRejectFinal: {
		From:  []Status{StatusSigned},
		Actor: auth.RoleAdmin,
		To:    StatusContentRejected,
	},
}

// draftable lists the statuses in which the author may store work in
// progress without moving the workflow.
var draftable = map[Status]bool{
	StatusAuthorAssigned:       true,
	StatusContentRejected:      true,
	StatusPendingContentReview: true,
}
