package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/lifecycle"
	"github.com/helixir/records-service/internal/observability"
	"github.com/helixir/records-service/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 500
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// createDocumentRequest is the JSON request body for creating a document.
type createDocumentRequest struct {
	Subject              string   `json:"subject" validate:"required,max=1000"`
	Type                 string   `json:"type,omitempty" validate:"omitempty,oneof=Incoming Outgoing Internal Archived 'Not Defined'"`
	Classification       string   `json:"classification,omitempty" validate:"max=200"`
	SubClassification    string   `json:"sub_classification,omitempty" validate:"max=200"`
	ConfidentialityLevel *int     `json:"confidentiality_level,omitempty" validate:"omitempty,min=0"`
	AssignedTo           []string `json:"assigned_to,omitempty" validate:"max=100,dive,required"`
}

// classifyRequest is the JSON request body for classifying a document.
// Every field is optional and overrides the stored value before allocation.
type classifyRequest struct {
	Type                 *string `json:"type,omitempty" validate:"omitempty,oneof=Incoming Outgoing Internal Archived 'Not Defined'"`
	Classification       *string `json:"classification,omitempty" validate:"omitempty,max=200"`
	SubClassification    *string `json:"sub_classification,omitempty" validate:"omitempty,max=200"`
	ConfidentialityLevel *int    `json:"confidentiality_level,omitempty" validate:"omitempty,min=0"`
}

// transitionRequest is the JSON request body for a lifecycle transition.
type transitionRequest struct {
	Type           *string  `json:"type,omitempty"`
	Users          []string `json:"users,omitempty" validate:"max=100,dive,required"`
	FinalStatus    *string  `json:"final_status,omitempty"`
	PreviousStatus *string  `json:"previous_status,omitempty"`
	Recipients     []string `json:"recipients,omitempty" validate:"max=100,dive,required"`
}

// createDocument handles POST /documents.
func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, actorID := observability.TenantActorFromContext(ctx)

	var req createDocumentRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}

	doc, err := s.documents.Create(ctx, lifecycle.CreateInput{
		TenantID:             tenantID,
		Subject:              strings.TrimSpace(req.Subject),
		Type:                 domain.DocumentType(req.Type),
		Classification:       req.Classification,
		SubClassification:    req.SubClassification,
		ConfidentialityLevel: req.ConfidentialityLevel,
		AssignedTo:           req.AssignedTo,
		Actor:                actorID,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, domainDocumentToResponse(doc))
}

// listDocuments handles GET /documents.
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := observability.TenantActorFromContext(ctx)
	q := r.URL.Query()

	limit, offset := parsePaginationParams(r)
	filter := repository.DocumentFilter{
		TenantID: tenantID,
		Status:   domain.DocumentStatus(q.Get("status")),
		Limit:    limit,
		Offset:   offset,
	}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, domain.DocumentType(t))
	}
	if v := q.Get("classified"); v != "" {
		classified, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "classified must be a boolean")
			return
		}
		filter.Classified = &classified
	}

	docs, total, err := s.documents.List(ctx, filter, clearanceFromContext(ctx))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := listDocumentsResponse{
		Documents:     make([]documentResponse, 0, len(docs)),
		NextPageToken: encodePageToken(offset, len(docs), total),
		TotalCount:    total,
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, domainDocumentToResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// getDocument handles GET /documents/{documentID}.
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := observability.TenantActorFromContext(ctx)

	id, ok := parseUUID(w, chi.URLParam(r, "documentID"), "document_id")
	if !ok {
		return
	}

	doc, err := s.documents.Get(ctx, tenantID, id, clearanceFromContext(ctx))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domainDocumentToResponse(doc))
}

// classifyDocument handles POST /documents/{documentID}/classify. It returns
// the document's control number, allocating one on first classification.
func (s *Server) classifyDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, actorID := observability.TenantActorFromContext(ctx)

	id, ok := parseUUID(w, chi.URLParam(r, "documentID"), "document_id")
	if !ok {
		return
	}

	var req classifyRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}

	fields := domain.ClassificationFields{
		Classification:       req.Classification,
		SubClassification:    req.SubClassification,
		ConfidentialityLevel: req.ConfidentialityLevel,
	}
	if req.Type != nil {
		t := domain.DocumentType(*req.Type)
		fields.Type = &t
	}

	clearance := clearanceFromContext(ctx)
	result, err := s.documents.Classify(ctx, lifecycle.ClassifyInput{
		TenantID:  tenantID,
		ID:        id,
		Fields:    fields,
		Actor:     actorID,
		Clearance: &clearance,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyResultToResponse(result))
}

// transitionDocument handles POST /documents/{documentID}/transitions/{transition}.
func (s *Server) transitionDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, actorID := observability.TenantActorFromContext(ctx)

	id, ok := parseUUID(w, chi.URLParam(r, "documentID"), "document_id")
	if !ok {
		return
	}
	name := lifecycle.Transition(chi.URLParam(r, "transition"))
	if !name.IsValid() {
		writeError(w, http.StatusNotFound, "unknown transition")
		return
	}

	var req transitionRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}

	payload := lifecycle.TransitionPayload{Users: req.Users, Recipients: req.Recipients}
	if req.Type != nil {
		t := domain.DocumentType(*req.Type)
		payload.Type = &t
	}
	if req.FinalStatus != nil {
		fs := domain.FinalStatus(*req.FinalStatus)
		payload.FinalStatus = &fs
	}
	if req.PreviousStatus != nil {
		ps := domain.DocumentStatus(*req.PreviousStatus)
		payload.PreviousStatus = &ps
	}

	clearance := clearanceFromContext(ctx)
	doc, err := s.documents.Transition(ctx, lifecycle.TransitionInput{
		TenantID:  tenantID,
		ID:        id,
		Name:      name,
		Payload:   payload,
		Actor:     actorID,
		Clearance: &clearance,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domainDocumentToResponse(doc))
}

// decodeBody reads and validates a JSON body into dst. An empty body is
// accepted when optional is set.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		if optional {
			return true
		}
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage renders the first validator failure.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
	return "invalid request body"
}

// writeDomainError maps a domain error to an HTTP status.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrInvalidTransition):
		var te *domain.InvalidTransitionError
		if errors.As(err, &te) {
			writeError(w, http.StatusConflict, te.Error())
		} else {
			writeError(w, http.StatusConflict, "invalid transition")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrAllocationConflict),
		errors.Is(err, domain.ErrLockNotObtained),
		errors.Is(err, domain.ErrServiceUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "service unavailable, retry the request")
	default:
		rc := observability.RequestContextFromContext(r.Context())
		logger := observability.WithRequestContext(s.logger, rc.RequestID, rc.TenantID, rc.ActorID)
		if rc.TraceID != "" {
			logger = observability.WithTraceContext(logger, rc.TraceID, rc.SpanID)
		}
		logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from the query.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodePageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodePageToken(offset, returned int, total int64) string {
	next := offset + returned
	if returned == 0 || int64(next) >= total {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(next)))
}
