// ABOUTME: MCP resource handlers exposing contacts, the verification queue and sync state
// ABOUTME: Read-only JSON views addressed by rolodex:// URIs
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/directory"
	"github.com/harperreed/rolodex/identity"
	"github.com/harperreed/rolodex/models"
)

const resourceScheme = "rolodex://"

type ResourceHandlers struct {
	svc    *identity.Service
	engine *directory.Engine
	owner  string
}

func NewResourceHandlers(svc *identity.Service, engine *directory.Engine, ownerID string) *ResourceHandlers {
	return &ResourceHandlers{svc: svc, engine: engine, owner: ownerID}
}

// Resources lists the static resources the server advertises.
func (h *ResourceHandlers) Resources() []*mcp.Resource {
	return []*mcp.Resource{
		{URI: resourceScheme + "contacts", Name: "contacts", MIMEType: "application/json",
			Description: "Most recently seen contacts"},
		{URI: resourceScheme + "queue", Name: "verification-queue", MIMEType: "application/json",
			Description: "Pending verification suggestions"},
		{URI: resourceScheme + "sync", Name: "sync-state", MIMEType: "application/json",
			Description: "Directory sync state per account"},
	}
}

// ContactTemplate addresses a single contact.
func (h *ResourceHandlers) ContactTemplate() *mcp.ResourceTemplate {
	return &mcp.ResourceTemplate{
		URITemplate: resourceScheme + "contacts/{id}",
		Name:        "contact",
		MIMEType:    "application/json",
		Description: "One contact with its directory sources",
	}
}

// ReadResource handles resource read requests.
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")
	switch parts[0] {
	case "contacts":
		if len(parts) == 1 || parts[1] == "" {
			contacts, err := h.svc.FindContacts(ctx, h.owner, db.ContactFilter{Limit: 1000})
			if err != nil {
				return nil, err
			}
			return jsonResource(uri, contacts)
		}
		return h.readContact(ctx, uri, parts[1])

	case "queue":
		pending := models.QueuePending
		entries, err := h.svc.ListQueue(ctx, h.owner, &pending)
		if err != nil {
			return nil, err
		}
		return jsonResource(uri, entries)

	case "sync":
		states, err := h.engine.ListSyncStates(ctx, h.owner)
		if err != nil {
			return nil, err
		}
		return jsonResource(uri, states)

	default:
		return nil, mcp.ResourceNotFoundError(uri)
	}
}

func (h *ResourceHandlers) readContact(ctx context.Context, uri, idStr string) (*mcp.ReadResourceResult, error) {
	id, err := parseID("contact id", idStr)
	if err != nil {
		return nil, err
	}
	contact, err := h.svc.GetContact(ctx, h.owner, id)
	if err != nil {
		return nil, err
	}
	sources, err := h.svc.ContactSources(ctx, h.owner, id)
	if err != nil {
		return nil, err
	}
	return jsonResource(uri, struct {
		*models.Contact
		Sources []models.ContactSource `json:"sources"`
	}{contact, sources})
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
