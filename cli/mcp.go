// ABOUTME: MCP server subcommand
// ABOUTME: Registers contact, queue and sync tools plus resources and prompts on stdio
package cli

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/handlers"
)

const serverVersion = "0.1.0"

// NewMCPServer builds the server with every tool, resource and prompt registered.
func NewMCPServer(app *App) *mcp.Server {
	owner := app.owner()
	contactHandlers := handlers.NewContactHandlers(app.Service, owner)
	queueHandlers := handlers.NewQueueHandlers(app.Service, owner)
	syncHandlers := handlers.NewSyncHandlers(app.Engine, owner)
	resourceHandlers := handlers.NewResourceHandlers(app.Service, app.Engine, owner)
	promptHandlers := handlers.NewPromptHandlers(app.Service, owner)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "rolodex",
		Version: serverVersion,
	}, nil)

	// Contacts
	mcp.AddTool(server, &mcp.Tool{
		Name:        "observe_contact",
		Description: "Record a sender seen in an inbound message; classifies, merges and may verify or queue the contact",
	}, contactHandlers.ObserveContact)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_contacts",
		Description: "Search contacts by email, name, organization, domain, status or source type",
	}, contactHandlers.FindContacts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_contact",
		Description: "Get one contact by ID",
	}, contactHandlers.GetContact)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_contact",
		Description: "Delete a contact with its directory links and queue items",
	}, contactHandlers.DeleteContact)

	// Verification queue
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_verification_queue",
		Description: "List verification suggestions awaiting review",
	}, queueHandlers.ListVerificationQueue)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "approve_verification",
		Description: "Approve a suggestion and verify its contact",
	}, queueHandlers.ApproveVerification)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reject_verification",
		Description: "Reject a suggestion; the contact is never queued again",
	}, queueHandlers.RejectVerification)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "modify_verification",
		Description: "Correct a suggestion's type, tags or confidence and verify the contact with it",
	}, queueHandlers.ModifyVerification)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "batch_approve_domain",
		Description: "Approve every pending suggestion for an email domain; failures are reported per item",
	}, queueHandlers.BatchApproveDomain)

	// Directory sync
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_directory",
		Description: "Run a full or incremental Google Contacts sync for an account",
	}, syncHandlers.SyncDirectory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_sync_state",
		Description: "Show directory sync state for one account or all accounts",
	}, syncHandlers.GetSyncState)

	for _, r := range resourceHandlers.Resources() {
		server.AddResource(r, resourceHandlers.ReadResource)
	}
	server.AddResourceTemplate(resourceHandlers.ContactTemplate(), resourceHandlers.ReadResource)

	for _, p := range promptHandlers.Prompts() {
		server.AddPrompt(p, promptHandlers.GetPrompt)
	}

	return server
}

// MCPCommand starts the MCP server on stdio
func MCPCommand(app *App) error {
	app.Log.Info().Str("owner", app.owner()).Msg("starting rolodex MCP server")
	return NewMCPServer(app).Run(context.Background(), &mcp.StdioTransport{})
}
