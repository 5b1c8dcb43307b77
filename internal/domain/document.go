// Package domain provides domain models and business logic for the records service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType is the correspondence category of a document.
type DocumentType string

// Document type constants.
const (
	DocumentTypeIncoming   DocumentType = "Incoming"
	DocumentTypeOutgoing   DocumentType = "Outgoing"
	DocumentTypeInternal   DocumentType = "Internal"
	DocumentTypeArchived   DocumentType = "Archived"
	DocumentTypeNotDefined DocumentType = "Not Defined"
)

// IsValid returns true if the type is one of the known document types.
func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentTypeIncoming, DocumentTypeOutgoing, DocumentTypeInternal,
		DocumentTypeArchived, DocumentTypeNotDefined:
		return true
	}
	return false
}

// IsOutbound reports whether documents of this type go through the
// print/sign/release workflow.
func (t DocumentType) IsOutbound() bool {
	switch t {
	case DocumentTypeOutgoing, DocumentTypeInternal, DocumentTypeArchived:
		return true
	}
	return false
}

// DocumentStatus is the soft-delete flag of a document.
type DocumentStatus string

// Document status constants.
const (
	DocumentStatusActive  DocumentStatus = "Active"
	DocumentStatusDeleted DocumentStatus = "Deleted"
)

// IsValid returns true if the status is a known document status.
func (s DocumentStatus) IsValid() bool {
	return s == DocumentStatusActive || s == DocumentStatusDeleted
}

// FinalStatus is the approval outcome that gates release.
type FinalStatus string

// Final status constants.
const (
	FinalStatusApproved    FinalStatus = "Approved"
	FinalStatusDisapproved FinalStatus = "Disapproved"
	FinalStatusReturned    FinalStatus = "Returned"
)

// IsValid returns true if the final status is a known value.
func (s FinalStatus) IsValid() bool {
	switch s {
	case FinalStatusApproved, FinalStatusDisapproved, FinalStatusReturned:
		return true
	}
	return false
}

// ProcessCheckpoints holds the forward-only workflow milestones of a document.
type ProcessCheckpoints struct {
	Printed      bool `json:"printed"`
	Signed       bool `json:"signed"`
	Uploaded     bool `json:"uploaded"`
	Released     bool `json:"released"`
	Receipt      bool `json:"receipt"`
	Acknowledged bool `json:"acknowledged"`
}

// Document is a single piece of office correspondence or internal paper.
type Document struct {
	ID       uuid.UUID
	TenantID string
	Subject  string

	Type                 DocumentType
	Classification       string
	SubClassification    string
	ConfidentialityLevel *int

	// ControlNumber is write-once; DateClassified is set in the same write.
	ControlNumber  *string
	DateClassified *time.Time

	Process        ProcessCheckpoints
	Status         DocumentStatus
	PreviousStatus *DocumentStatus
	FinalStatus    *FinalStatus

	AssignedTo []string
	Included   []string
	Excluded   []string

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsClassified reports whether a control number has been assigned.
func (d *Document) IsClassified() bool {
	return d.ControlNumber != nil && *d.ControlNumber != ""
}

// IsDeleted reports whether the document is soft-deleted.
func (d *Document) IsDeleted() bool {
	return d.Status == DocumentStatusDeleted
}

// VisibleTo reports whether a caller with the given clearance may see the document.
// Documents without a confidentiality level are visible to everyone.
func (d *Document) VisibleTo(clearance int) bool {
	if d.ConfidentialityLevel == nil {
		return true
	}
	return clearance >= *d.ConfidentialityLevel
}

// Field names exposed to allocation rules and bucket keys.
const (
	FieldType                 = "type"
	FieldClassification       = "classification"
	FieldSubClassification    = "sub_classification"
	FieldConfidentialityLevel = "confidentiality_level"
)

// Fields returns the classification fields of the document as a rule context.
// Empty values are omitted so that rules treat them as missing.
func (d *Document) Fields() map[string]any {
	fields := make(map[string]any, 4)
	if d.Type != "" {
		fields[FieldType] = string(d.Type)
	}
	if d.Classification != "" {
		fields[FieldClassification] = d.Classification
	}
	if d.SubClassification != "" {
		fields[FieldSubClassification] = d.SubClassification
	}
	if d.ConfidentialityLevel != nil {
		fields[FieldConfidentialityLevel] = *d.ConfidentialityLevel
	}
	return fields
}

// FieldValue returns the string value of a bucket-key field.
func (d *Document) FieldValue(field string) (string, bool) {
	switch field {
	case FieldType:
		return string(d.Type), true
	case FieldClassification:
		return d.Classification, true
	case FieldSubClassification:
		return d.SubClassification, true
	}
	return "", false
}

// ClassificationFields are the caller-supplied values applied at classification time.
type ClassificationFields struct {
	Type                 *DocumentType
	Classification       *string
	SubClassification    *string
	ConfidentialityLevel *int
}

// Apply copies the non-nil fields onto the document.
func (f ClassificationFields) Apply(d *Document) {
	if f.Type != nil {
		d.Type = *f.Type
	}
	if f.Classification != nil {
		d.Classification = *f.Classification
	}
	if f.SubClassification != nil {
		d.SubClassification = *f.SubClassification
	}
	if f.ConfidentialityLevel != nil {
		level := *f.ConfidentialityLevel
		d.ConfidentialityLevel = &level
	}
}

// DerivedFields is the denormalized copy of classification data kept on
// records that reference a document, such as search-index entries.
type DerivedFields struct {
	ControlNumber     *string
	Type              DocumentType
	Classification    string
	SubClassification string
}

// DerivedFieldsOf builds the propagated field set for a document.
func DerivedFieldsOf(d *Document) DerivedFields {
	return DerivedFields{
		ControlNumber:     d.ControlNumber,
		Type:              d.Type,
		Classification:    d.Classification,
		SubClassification: d.SubClassification,
	}
}
