package lifecycle

import (
	"time"

	"github.com/helixir/records-service/internal/domain"
)

// Transition names a lifecycle action other than classification.
type Transition string

// Transition names.
const (
	TransitionChangeType  Transition = "change_type"
	TransitionAssign      Transition = "assign"
	TransitionInclude     Transition = "include"
	TransitionExclude     Transition = "exclude"
	TransitionFinalAction Transition = "final_action"
	TransitionPrint       Transition = "print"
	TransitionSign        Transition = "sign"
	TransitionUpload      Transition = "upload"
	TransitionRelease     Transition = "release"
	TransitionReceipt     Transition = "receipt"
	TransitionAcknowledge Transition = "acknowledge"
	TransitionSoftDelete  Transition = "soft_delete"
	TransitionUndo        Transition = "undo"
)

// classifyTransition is the name used in errors and metrics for classification.
const classifyTransition = "classify"

// Precondition messages reported in InvalidTransitionError.
const (
	preDeleted          = "document is deleted"
	preNotDeleted       = "document is not deleted"
	preNotActive        = "document is not active"
	preNotOutbound      = "document type must be Outgoing, Internal or Archived"
	preNotApproved      = "final status must be Approved"
	preNotPrinted       = "document must be printed"
	preNotSigned        = "document must be signed"
	preNotUploaded      = "document must be uploaded"
	preAlreadyReleased  = "document is already released"
	preNotReleased      = "document must be released"
	prePreviousMismatch = "previous_status does not match the status before deletion"
)

// IsValid returns true for a known transition name.
func (t Transition) IsValid() bool {
	_, ok := transitions[t]
	return ok
}

// TransitionPayload carries the arguments of a transition. Only the members
// relevant to the transition are read.
type TransitionPayload struct {
	Type           *domain.DocumentType   `json:"type,omitempty"`
	Users          []string               `json:"users,omitempty"`
	FinalStatus    *domain.FinalStatus    `json:"final_status,omitempty"`
	PreviousStatus *domain.DocumentStatus `json:"previous_status,omitempty"`
	Recipients     []string               `json:"recipients,omitempty"`
}

// change is the outcome of applying a transition to a document.
type change struct {
	eventType string
	payload   interface{}
}

type transitionFunc func(d *domain.Document, p TransitionPayload, actor string) (*change, error)

// transitions is the lifecycle table. Every entry mutates d only after all
// of its preconditions hold.
var transitions = map[Transition]transitionFunc{
	TransitionChangeType:  changeType,
	TransitionAssign:      assign,
	TransitionInclude:     include,
	TransitionExclude:     exclude,
	TransitionFinalAction: finalAction,
	TransitionPrint:       markPrinted,
	TransitionSign:        markSigned,
	TransitionUpload:      markUploaded,
	TransitionRelease:     markReleased,
	TransitionReceipt:     markReceipt,
	TransitionAcknowledge: markAcknowledged,
	TransitionSoftDelete:  softDelete,
	TransitionUndo:        undo,
}

// apply runs the named transition against d and stamps the actor and time.
func apply(d *domain.Document, name Transition, p TransitionPayload, actor string, now time.Time) (*change, error) {
	fn, ok := transitions[name]
	if !ok {
		return nil, domain.NewValidationError("transition", "unknown transition "+string(name))
	}
	if name != TransitionUndo && d.IsDeleted() {
		return nil, domain.NewInvalidTransitionError(string(name), preDeleted)
	}

	ch, err := fn(d, p, actor)
	if err != nil {
		return nil, err
	}
	d.UpdatedBy = actor
	d.UpdatedAt = now
	return ch, nil
}

func invalid(name Transition, precondition string) error {
	return domain.NewInvalidTransitionError(string(name), precondition)
}

func changeType(d *domain.Document, p TransitionPayload, _ string) (*change, error) {
	if p.Type == nil || !p.Type.IsValid() {
		return nil, domain.NewValidationError("type", "a known document type is required")
	}
	previous := d.Type
	if previous == *p.Type {
		return nil, nil
	}
	d.Type = *p.Type
	return &change{
		eventType: domain.EventTypeDocumentTypeChanged,
		payload: domain.DocumentTypeChangedPayload{
			DocumentID:   d.ID,
			TenantID:     d.TenantID,
			PreviousType: previous,
			Type:         d.Type,
		},
	}, nil
}

func assign(d *domain.Document, p TransitionPayload, _ string) (*change, error) {
	if len(p.Users) == 0 {
		return nil, domain.NewValidationError("users", "at least one user is required")
	}
	d.AssignedTo = union(nil, p.Users)
	return nil, nil
}

func include(d *domain.Document, p TransitionPayload, _ string) (*change, error) {
	if len(p.Users) == 0 {
		return nil, domain.NewValidationError("users", "at least one user is required")
	}
	d.Included = union(d.Included, p.Users)
	d.Excluded = without(d.Excluded, p.Users)
	return nil, nil
}

func exclude(d *domain.Document, p TransitionPayload, _ string) (*change, error) {
	if len(p.Users) == 0 {
		return nil, domain.NewValidationError("users", "at least one user is required")
	}
	d.Excluded = union(d.Excluded, p.Users)
	d.Included = without(d.Included, p.Users)
	return nil, nil
}

func finalAction(d *domain.Document, p TransitionPayload, _ string) (*change, error) {
	if p.FinalStatus == nil || !p.FinalStatus.IsValid() {
		return nil, domain.NewValidationError("final_status", "a known final status is required")
	}
	if d.Process.Released {
		return nil, invalid(TransitionFinalAction, preAlreadyReleased)
	}
	status := *p.FinalStatus
	d.FinalStatus = &status
	return nil, nil
}

func markPrinted(d *domain.Document, _ TransitionPayload, _ string) (*change, error) {
	if !d.Type.IsOutbound() {
		return nil, invalid(TransitionPrint, preNotOutbound)
	}
	d.Process.Printed = true
	return nil, nil
}

func markSigned(d *domain.Document, _ TransitionPayload, _ string) (*change, error) {
	if !d.Type.IsOutbound() {
		return nil, invalid(TransitionSign, preNotOutbound)
	}
	if !d.Process.Printed {
		return nil, invalid(TransitionSign, preNotPrinted)
	}
	d.Process.Signed = true
	return nil, nil
}

func markUploaded(d *domain.Document, _ TransitionPayload, _ string) (*change, error) {
	d.Process.Uploaded = true
	return nil, nil
}

func markReleased(d *domain.Document, p TransitionPayload, actor string) (*change, error) {
	switch {
	case !d.Type.IsOutbound():
		return nil, invalid(TransitionRelease, preNotOutbound)
	case d.FinalStatus == nil || *d.FinalStatus != domain.FinalStatusApproved:
		return nil, invalid(TransitionRelease, preNotApproved)
	case !d.Process.Printed:
		return nil, invalid(TransitionRelease, preNotPrinted)
	case !d.Process.Signed:
		return nil, invalid(TransitionRelease, preNotSigned)
	case !d.Process.Uploaded:
		return nil, invalid(TransitionRelease, preNotUploaded)
	case d.Process.Released:
		return nil, invalid(TransitionRelease, preAlreadyReleased)
	}

	d.Process.Released = true

	recipients := p.Recipients
	if len(recipients) == 0 {
		recipients = d.Included
	}
	payload := domain.DocumentReleasedPayload{
		DocumentID: d.ID,
		TenantID:   d.TenantID,
		Recipients: recipients,
		ReleasedBy: actor,
	}
	if d.ControlNumber != nil {
		payload.ControlNumber = *d.ControlNumber
	}
	return &change{eventType: domain.EventTypeDocumentReleased, payload: payload}, nil
}

func markReceipt(d *domain.Document, _ TransitionPayload, _ string) (*change, error) {
	if !d.Process.Released {
		return nil, invalid(TransitionReceipt, preNotReleased)
	}
	d.Process.Receipt = true
	return nil, nil
}

func markAcknowledged(d *domain.Document, _ TransitionPayload, _ string) (*change, error) {
	if !d.Process.Released {
		return nil, invalid(TransitionAcknowledge, preNotReleased)
	}
	d.Process.Acknowledged = true
	return nil, nil
}

func softDelete(d *domain.Document, _ TransitionPayload, actor string) (*change, error) {
	if d.Status != domain.DocumentStatusActive {
		return nil, invalid(TransitionSoftDelete, preNotActive)
	}
	previous := d.Status
	d.PreviousStatus = &previous
	d.Status = domain.DocumentStatusDeleted
	return &change{
		eventType: domain.EventTypeDocumentDeleted,
		payload: domain.DocumentStatusPayload{
			DocumentID: d.ID,
			TenantID:   d.TenantID,
			Status:     d.Status,
			ChangedBy:  actor,
		},
	}, nil
}

func undo(d *domain.Document, p TransitionPayload, actor string) (*change, error) {
	if d.Status != domain.DocumentStatusDeleted {
		return nil, invalid(TransitionUndo, preNotDeleted)
	}
	if p.PreviousStatus == nil {
		return nil, domain.NewValidationError("previous_status", "previous_status is required")
	}
	if d.PreviousStatus == nil || *d.PreviousStatus != *p.PreviousStatus {
		return nil, invalid(TransitionUndo, prePreviousMismatch)
	}
	d.Status = *d.PreviousStatus
	d.PreviousStatus = nil
	return &change{
		eventType: domain.EventTypeDocumentRestored,
		payload: domain.DocumentStatusPayload{
			DocumentID: d.ID,
			TenantID:   d.TenantID,
			Status:     d.Status,
			ChangedBy:  actor,
		},
	}, nil
}

// union appends the members of add missing from list, preserving order.
func union(list, add []string) []string {
	seen := make(map[string]bool, len(list)+len(add))
	out := make([]string, 0, len(list)+len(add))
	for _, s := range append(append([]string(nil), list...), add...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// without removes the members of drop from list.
func without(list, drop []string) []string {
	if len(list) == 0 {
		return list
	}
	skip := make(map[string]bool, len(drop))
	for _, s := range drop {
		skip[s] = true
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if !skip[s] {
			out = append(out, s)
		}
	}
	return out
}
