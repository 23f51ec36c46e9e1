// ABOUTME: MCP prompt handlers for contact review workflows
// ABOUTME: Builds prompts that walk an assistant through the verification queue or one contact
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/identity"
	"github.com/harperreed/rolodex/models"
)

type PromptHandlers struct {
	svc   *identity.Service
	owner string
}

func NewPromptHandlers(svc *identity.Service, ownerID string) *PromptHandlers {
	return &PromptHandlers{svc: svc, owner: ownerID}
}

// Prompts lists the prompts the server advertises.
func (h *PromptHandlers) Prompts() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        "review-queue",
			Description: "Walk through pending verification suggestions, optionally for one domain",
			Arguments: []*mcp.PromptArgument{
				{Name: "domain", Description: "Only review items from this email domain"},
			},
		},
		{
			Name:        "contact-summary",
			Description: "Summarize what is known about one contact",
			Arguments: []*mcp.PromptArgument{
				{Name: "contact_id", Description: "Contact ID", Required: true},
			},
		},
	}
}

// GetPrompt generates the prompt message for the named template.
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case "review-queue":
		return h.reviewQueuePrompt(ctx, request.Params.Arguments)
	case "contact-summary":
		return h.contactSummaryPrompt(ctx, request.Params.Arguments)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func (h *PromptHandlers) reviewQueuePrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	pending := models.QueuePending
	entries, err := h.svc.ListQueue(ctx, h.owner, &pending)
	if err != nil {
		return nil, err
	}

	domain := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args["domain"]), "@"))
	var text strings.Builder
	text.WriteString("Review these contact classification suggestions.\n\n")

	shown := 0
	for _, e := range entries {
		if domain != "" && e.Domain != domain {
			continue
		}
		shown++
		text.WriteString(fmt.Sprintf("- queue_id=%s contact_id=%s email=%s", e.ID, e.ContactID, e.Email))
		if e.DisplayName != "" {
			text.WriteString(fmt.Sprintf(" name=%q", e.DisplayName))
		}
		text.WriteString(fmt.Sprintf(" suggested=%s", displayType(e.SuggestedType)))
		if e.Confidence != nil {
			text.WriteString(fmt.Sprintf(" confidence=%.2f", *e.Confidence))
		}
		if len(e.SuggestedTags) > 0 {
			text.WriteString(" tags=" + strings.Join(e.SuggestedTags, ","))
		}
		if e.Reasoning != "" {
			text.WriteString(fmt.Sprintf("\n  reasoning: %s", e.Reasoning))
		}
		text.WriteString("\n")
	}
	if shown == 0 {
		text.WriteString("(no pending items)\n")
	}

	text.WriteString("\nFor each item decide whether to call approve_verification, reject_verification or")
	text.WriteString(" modify_verification with a corrected source type. When every item of a domain is")
	text.WriteString(" clearly correct, batch_approve_domain approves them together.")

	description := "Pending verification queue"
	if domain != "" {
		description += " for " + domain
	}
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: text.String()}},
		},
	}, nil
}

func (h *PromptHandlers) contactSummaryPrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	id, err := parseID("contact_id", args["contact_id"])
	if err != nil {
		return nil, err
	}
	contact, err := h.svc.GetContact(ctx, h.owner, id)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	text.WriteString("Summarize this contact and suggest how they relate to the family:\n\n")
	text.WriteString(fmt.Sprintf("Email: %s\n", contact.Email))
	if contact.DisplayName != "" {
		text.WriteString(fmt.Sprintf("Name: %s\n", contact.DisplayName))
	}
	if contact.Organization != "" {
		text.WriteString(fmt.Sprintf("Organization: %s\n", contact.Organization))
	}
	text.WriteString(fmt.Sprintf("Source type: %s (confidence %.2f)\n", displayType(contact.SourceType), contact.ConfidenceScore))
	text.WriteString(fmt.Sprintf("Status: %s\n", contact.VerificationStatus))
	text.WriteString(fmt.Sprintf("Seen in %d messages between %s and %s\n",
		contact.EmailCount, contact.FirstSeen.Format("2006-01-02"), contact.LastSeen.Format("2006-01-02")))
	if len(contact.Tags) > 0 {
		text.WriteString(fmt.Sprintf("Tags: %s\n", strings.Join(contact.Tags, ", ")))
	}
	if contact.Notes != "" {
		text.WriteString(fmt.Sprintf("\nNotes: %s\n", contact.Notes))
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Summary for contact: %s", contact.Email),
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: text.String()}},
		},
	}, nil
}

func displayType(t models.SourceType) string {
	if t == models.SourceNone {
		return "unknown"
	}
	return string(t)
}
