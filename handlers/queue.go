// ABOUTME: Verification queue MCP tool handlers
// ABOUTME: Lists pending suggestions and applies approve, reject, modify and domain batch approvals
package handlers

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/identity"
	"github.com/harperreed/rolodex/models"
)

type QueueHandlers struct {
	svc   *identity.Service
	owner string
}

func NewQueueHandlers(svc *identity.Service, ownerID string) *QueueHandlers {
	return &QueueHandlers{svc: svc, owner: ownerID}
}

type QueueItemOutput struct {
	ID             string   `json:"id"`
	ContactID      string   `json:"contact_id"`
	Email          string   `json:"email,omitempty"`
	Domain         string   `json:"domain,omitempty"`
	DisplayName    string   `json:"display_name,omitempty"`
	SuggestedType  string   `json:"suggested_type,omitempty"`
	SuggestedTags  []string `json:"suggested_tags,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	SampleEmailIDs []string `json:"sample_email_ids,omitempty"`
	Status         string   `json:"status"`
	UserActionAt   *string  `json:"user_action_at,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

type ListQueueInput struct {
	Status string `json:"status,omitempty" jsonschema:"pending (default), approved, rejected, modified or all"`
}

type ListQueueOutput struct {
	Items []QueueItemOutput `json:"items"`
}

func (h *QueueHandlers) ListVerificationQueue(ctx context.Context, request *mcp.CallToolRequest, input ListQueueInput) (*mcp.CallToolResult, ListQueueOutput, error) {
	var status *models.QueueStatus
	switch input.Status {
	case "all":
	case "":
		pending := models.QueuePending
		status = &pending
	default:
		s := models.QueueStatus(input.Status)
		status = &s
	}

	entries, err := h.svc.ListQueue(ctx, h.owner, status)
	if err != nil {
		return nil, ListQueueOutput{}, err
	}

	items := make([]QueueItemOutput, len(entries))
	for i := range entries {
		items[i] = queueEntryToOutput(&entries[i])
	}
	return nil, ListQueueOutput{Items: items}, nil
}

type QueueActionInput struct {
	QueueID   string `json:"queue_id" jsonschema:"Verification queue item ID (required)"`
	ContactID string `json:"contact_id" jsonschema:"Contact ID the item refers to (required)"`
}

type ResolutionOutput struct {
	Item    QueueItemOutput `json:"item"`
	Contact ContactOutput   `json:"contact"`
}

func (h *QueueHandlers) ApproveVerification(ctx context.Context, request *mcp.CallToolRequest, input QueueActionInput) (*mcp.CallToolResult, ResolutionOutput, error) {
	queueID, err := parseID("queue_id", input.QueueID)
	if err != nil {
		return nil, ResolutionOutput{}, err
	}
	contactID, err := parseID("contact_id", input.ContactID)
	if err != nil {
		return nil, ResolutionOutput{}, err
	}

	res, err := h.svc.Approve(ctx, h.owner, queueID, contactID)
	if err != nil {
		return nil, ResolutionOutput{}, err
	}
	return nil, resolutionToOutput(res), nil
}

type RejectInput struct {
	QueueID string `json:"queue_id" jsonschema:"Verification queue item ID (required)"`
}

func (h *QueueHandlers) RejectVerification(ctx context.Context, request *mcp.CallToolRequest, input RejectInput) (*mcp.CallToolResult, ResolutionOutput, error) {
	queueID, err := parseID("queue_id", input.QueueID)
	if err != nil {
		return nil, ResolutionOutput{}, err
	}

	res, err := h.svc.Reject(ctx, h.owner, queueID)
	if err != nil {
		return nil, ResolutionOutput{}, err
	}
	return nil, resolutionToOutput(res), nil
}

type ModifyInput struct {
	QueueID       string   `json:"queue_id" jsonschema:"Verification queue item ID (required)"`
	ContactID     string   `json:"contact_id" jsonschema:"Contact ID the item refers to (required)"`
	SuggestedType string   `json:"suggested_type,omitempty" jsonschema:"Corrected source type"`
	SuggestedTags []string `json:"suggested_tags,omitempty" jsonschema:"Corrected tags"`
	Reasoning     string   `json:"reasoning,omitempty" jsonschema:"Reviewer note"`
	Confidence    *float64 `json:"confidence,omitempty" jsonschema:"Corrected confidence between 0 and 1"`
}

func (h *QueueHandlers) ModifyVerification(ctx context.Context, request *mcp.CallToolRequest, input ModifyInput) (*mcp.CallToolResult, ResolutionOutput, error) {
	queueID, err := parseID("queue_id", input.QueueID)
	if err != nil {
		return nil, ResolutionOutput{}, err
	}
	contactID, err := parseID("contact_id", input.ContactID)
	if err != nil {
		return nil, ResolutionOutput{}, err
	}

	update := identity.QueueUpdate{
		SuggestedTags: input.SuggestedTags,
		Confidence:    input.Confidence,
	}
	if input.SuggestedType != "" {
		t := models.SourceType(input.SuggestedType)
		update.SuggestedType = &t
	}
	if input.Reasoning != "" {
		update.Reasoning = &input.Reasoning
	}

	res, err := h.svc.Modify(ctx, h.owner, queueID, contactID, update)
	if err != nil {
		return nil, ResolutionOutput{}, err
	}
	return nil, resolutionToOutput(res), nil
}

type BatchApproveInput struct {
	Domain string `json:"domain" jsonschema:"Email domain whose pending items are approved (required)"`
}

type BatchItemOutput struct {
	QueueID   string `json:"queue_id"`
	ContactID string `json:"contact_id"`
	Email     string `json:"email"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

type BatchApproveOutput struct {
	Domain   string            `json:"domain"`
	Approved int               `json:"approved"`
	Failed   int               `json:"failed"`
	Items    []BatchItemOutput `json:"items"`
}

func (h *QueueHandlers) BatchApproveDomain(ctx context.Context, request *mcp.CallToolRequest, input BatchApproveInput) (*mcp.CallToolResult, BatchApproveOutput, error) {
	if input.Domain == "" {
		return nil, BatchApproveOutput{}, fmt.Errorf("domain is required")
	}
	res, err := h.svc.BatchApproveByDomain(ctx, h.owner, input.Domain)
	if err != nil {
		return nil, BatchApproveOutput{}, err
	}

	out := BatchApproveOutput{
		Domain:   res.Domain,
		Approved: res.Approved,
		Failed:   res.Failed,
		Items:    make([]BatchItemOutput, len(res.Items)),
	}
	for i, item := range res.Items {
		out.Items[i] = BatchItemOutput{
			QueueID:   item.QueueID.String(),
			ContactID: item.ContactID.String(),
			Email:     item.Email,
			OK:        item.OK,
			Error:     item.Error,
			Code:      item.Code,
		}
	}
	return nil, out, nil
}

func queueItemToOutput(item *models.VerificationQueueItem) QueueItemOutput {
	output := QueueItemOutput{
		ID:             item.ID.String(),
		ContactID:      item.ContactID.String(),
		SuggestedType:  string(item.SuggestedType),
		SuggestedTags:  item.SuggestedTags,
		Reasoning:      item.Reasoning,
		Confidence:     item.Confidence,
		SampleEmailIDs: item.SampleEmailIDs,
		Status:         string(item.Status),
		CreatedAt:      item.CreatedAt.Format(timeLayout),
	}
	if item.UserActionAt != nil {
		at := item.UserActionAt.Format(timeLayout)
		output.UserActionAt = &at
	}
	return output
}

func queueEntryToOutput(entry *models.QueueEntry) QueueItemOutput {
	output := queueItemToOutput(&entry.VerificationQueueItem)
	output.Email = entry.Email
	output.Domain = entry.Domain
	output.DisplayName = entry.DisplayName
	return output
}

func resolutionToOutput(res *identity.Resolution) ResolutionOutput {
	return ResolutionOutput{
		Item:    queueItemToOutput(res.Item),
		Contact: contactToOutput(res.Contact),
	}
}
