package httpserver

import (
	"time"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/lifecycle"
)

// Document response types for JSON serialization.

type documentResponse struct {
	ID                   string                    `json:"id"`
	Subject              string                    `json:"subject"`
	Type                 string                    `json:"type"`
	Classification       string                    `json:"classification,omitempty"`
	SubClassification    string                    `json:"sub_classification,omitempty"`
	ConfidentialityLevel *int                      `json:"confidentiality_level,omitempty"`
	ControlNumber        *string                   `json:"control_number,omitempty"`
	DateClassified       *time.Time                `json:"date_classified,omitempty"`
	Process              domain.ProcessCheckpoints `json:"process"`
	Status               string                    `json:"status"`
	PreviousStatus       *string                   `json:"previous_status,omitempty"`
	FinalStatus          *string                   `json:"final_status,omitempty"`
	AssignedTo           []string                  `json:"assigned_to,omitempty"`
	Included             []string                  `json:"included,omitempty"`
	Excluded             []string                  `json:"excluded,omitempty"`
	CreatedBy            string                    `json:"created_by"`
	UpdatedBy            string                    `json:"updated_by,omitempty"`
	CreatedAt            time.Time                 `json:"created_at"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

type listDocumentsResponse struct {
	Documents     []documentResponse `json:"documents"`
	NextPageToken string             `json:"next_page_token,omitempty"`
	TotalCount    int64              `json:"total_count"`
}

type classifyResponse struct {
	ControlNumber     string    `json:"control_number"`
	DateClassified    time.Time `json:"date_classified"`
	AlreadyClassified bool      `json:"already_classified"`
}

// Converter functions

func domainDocumentToResponse(d *domain.Document) documentResponse {
	resp := documentResponse{
		ID:                   d.ID.String(),
		Subject:              d.Subject,
		Type:                 string(d.Type),
		Classification:       d.Classification,
		SubClassification:    d.SubClassification,
		ConfidentialityLevel: d.ConfidentialityLevel,
		ControlNumber:        d.ControlNumber,
		DateClassified:       d.DateClassified,
		Process:              d.Process,
		Status:               string(d.Status),
		AssignedTo:           d.AssignedTo,
		Included:             d.Included,
		Excluded:             d.Excluded,
		CreatedBy:            d.CreatedBy,
		UpdatedBy:            d.UpdatedBy,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
	if d.PreviousStatus != nil {
		s := string(*d.PreviousStatus)
		resp.PreviousStatus = &s
	}
	if d.FinalStatus != nil {
		s := string(*d.FinalStatus)
		resp.FinalStatus = &s
	}
	return resp
}

func classifyResultToResponse(r *lifecycle.ClassifyResult) classifyResponse {
	return classifyResponse{
		ControlNumber:     r.ControlNumber,
		DateClassified:    r.DateClassified,
		AlreadyClassified: r.AlreadyClassified,
	}
}
