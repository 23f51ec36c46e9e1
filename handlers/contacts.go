// ABOUTME: Contact MCP tool handlers
// ABOUTME: Implements observe_contact, find_contacts, get_contact and delete_contact tools
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/identity"
	"github.com/harperreed/rolodex/models"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

type ContactHandlers struct {
	svc   *identity.Service
	owner string
}

func NewContactHandlers(svc *identity.Service, ownerID string) *ContactHandlers {
	return &ContactHandlers{svc: svc, owner: ownerID}
}

type ObserveContactInput struct {
	Email         string   `json:"email" jsonschema:"Sender email address (required)"`
	DisplayName   string   `json:"display_name,omitempty" jsonschema:"Sender display name from the message"`
	Organization  string   `json:"organization,omitempty" jsonschema:"Organization from the signature"`
	PhoneNumbers  []string `json:"phone_numbers,omitempty" jsonschema:"Phone numbers found in the message"`
	Subject       string   `json:"subject,omitempty" jsonschema:"Message subject"`
	SignatureText string   `json:"signature_text,omitempty" jsonschema:"Signature block of the message"`
	MessageID     string   `json:"message_id,omitempty" jsonschema:"Message id; repeated ids are counted once"`
	ObservedAt    string   `json:"observed_at,omitempty" jsonschema:"RFC3339 time the message was received"`
}

type ContactOutput struct {
	ID                 string         `json:"id"`
	Email              string         `json:"email"`
	DisplayName        string         `json:"display_name,omitempty"`
	Organization       string         `json:"organization,omitempty"`
	Domain             string         `json:"domain"`
	PhoneNumbers       []string       `json:"phone_numbers,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	SourceType         string         `json:"source_type,omitempty"`
	VerificationStatus string         `json:"verification_status"`
	VerificationMethod string         `json:"verification_method,omitempty"`
	VerifiedAt         *string        `json:"verified_at,omitempty"`
	ConfidenceScore    float64        `json:"confidence_score"`
	EmailCount         int            `json:"email_count"`
	FirstSeen          string         `json:"first_seen"`
	LastSeen           string         `json:"last_seen"`
	ExtractionMetadata map[string]any `json:"extraction_metadata,omitempty"`
	Notes              string         `json:"notes,omitempty"`
}

type ObserveContactOutput struct {
	Contact    ContactOutput        `json:"contact"`
	Action     string               `json:"action"`
	Method     string               `json:"method,omitempty"`
	Classifier string               `json:"classifier,omitempty"`
	Created    bool                 `json:"created"`
	Duplicate  bool                 `json:"duplicate"`
	Suggestion *identity.Suggestion `json:"suggestion,omitempty"`
}

func (h *ContactHandlers) ObserveContact(ctx context.Context, request *mcp.CallToolRequest, input ObserveContactInput) (*mcp.CallToolResult, ObserveContactOutput, error) {
	occ := identity.Occurrence{
		OccurrenceID:  input.MessageID,
		DisplayName:   input.DisplayName,
		Organization:  input.Organization,
		PhoneNumbers:  input.PhoneNumbers,
		Subject:       input.Subject,
		SignatureText: input.SignatureText,
	}
	if input.ObservedAt != "" {
		t, err := time.Parse(time.RFC3339, input.ObservedAt)
		if err != nil {
			return nil, ObserveContactOutput{}, fmt.Errorf("invalid observed_at: %w", err)
		}
		occ.ObservedAt = t
	}

	res, err := h.svc.ObserveContact(ctx, h.owner, input.Email, occ)
	if err != nil {
		return nil, ObserveContactOutput{}, err
	}

	out := ObserveContactOutput{
		Contact:    contactToOutput(res.Contact),
		Action:     string(res.Action.Kind),
		Method:     res.Action.Method,
		Created:    res.Created,
		Duplicate:  res.Duplicate,
		Suggestion: res.Action.Suggestion,
	}
	if res.Classification != nil {
		out.Classifier = res.Classification.Kind()
	}
	return nil, out, nil
}

type FindContactsInput struct {
	Query      string `json:"query,omitempty" jsonschema:"Search query (matches email, name and organization)"`
	Domain     string `json:"domain,omitempty" jsonschema:"Filter by email domain"`
	Status     string `json:"status,omitempty" jsonschema:"Filter by verification status: unverified, pending, verified, rejected"`
	SourceType string `json:"source_type,omitempty" jsonschema:"Filter by source type such as coach or teacher"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 10)"`
}

type FindContactsOutput struct {
	Contacts []ContactOutput `json:"contacts"`
}

func (h *ContactHandlers) FindContacts(ctx context.Context, request *mcp.CallToolRequest, input FindContactsInput) (*mcp.CallToolResult, FindContactsOutput, error) {
	limit := input.Limit
	if limit == 0 {
		limit = 10
	}

	status := models.VerificationStatus(input.Status)
	if status != "" && !status.Valid() {
		return nil, FindContactsOutput{}, fmt.Errorf("invalid status: %s", input.Status)
	}
	sourceType := models.SourceType(input.SourceType)
	if !sourceType.Valid() {
		return nil, FindContactsOutput{}, fmt.Errorf("invalid source_type: %s", input.SourceType)
	}

	contacts, err := h.svc.FindContacts(ctx, h.owner, db.ContactFilter{
		Query:      input.Query,
		Domain:     input.Domain,
		Status:     status,
		SourceType: sourceType,
		Limit:      limit,
	})
	if err != nil {
		return nil, FindContactsOutput{}, err
	}

	result := make([]ContactOutput, len(contacts))
	for i := range contacts {
		result[i] = contactToOutput(&contacts[i])
	}
	return nil, FindContactsOutput{Contacts: result}, nil
}

type ContactIDInput struct {
	ID string `json:"id" jsonschema:"Contact ID (required)"`
}

func (h *ContactHandlers) GetContact(ctx context.Context, request *mcp.CallToolRequest, input ContactIDInput) (*mcp.CallToolResult, ContactOutput, error) {
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, ContactOutput{}, err
	}
	contact, err := h.svc.GetContact(ctx, h.owner, id)
	if err != nil {
		return nil, ContactOutput{}, err
	}
	return nil, contactToOutput(contact), nil
}

type DeleteContactOutput struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func (h *ContactHandlers) DeleteContact(ctx context.Context, request *mcp.CallToolRequest, input ContactIDInput) (*mcp.CallToolResult, DeleteContactOutput, error) {
	id, err := parseID("id", input.ID)
	if err != nil {
		return nil, DeleteContactOutput{}, err
	}
	if err := h.svc.DeleteContact(ctx, h.owner, id); err != nil {
		return nil, DeleteContactOutput{}, err
	}
	return nil, DeleteContactOutput{ID: id.String(), Deleted: true}, nil
}

func parseID(field, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("%s is required", field)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return id, nil
}

func contactToOutput(contact *models.Contact) ContactOutput {
	output := ContactOutput{
		ID:                 contact.ID.String(),
		Email:              contact.Email,
		DisplayName:        contact.DisplayName,
		Organization:       contact.Organization,
		Domain:             contact.Domain,
		PhoneNumbers:       contact.PhoneNumbers,
		Tags:               contact.Tags,
		SourceType:         string(contact.SourceType),
		VerificationStatus: string(contact.VerificationStatus),
		VerificationMethod: contact.VerificationMethod,
		ConfidenceScore:    contact.ConfidenceScore,
		EmailCount:         contact.EmailCount,
		FirstSeen:          contact.FirstSeen.Format(timeLayout),
		LastSeen:           contact.LastSeen.Format(timeLayout),
		ExtractionMetadata: contact.ExtractionMetadata,
		Notes:              contact.Notes,
	}
	if contact.VerifiedAt != nil {
		v := contact.VerifiedAt.Format(timeLayout)
		output.VerifiedAt = &v
	}
	return output
}
