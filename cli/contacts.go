// ABOUTME: Contact CLI commands
// ABOUTME: Observe a sender, list and show contacts, delete a contact
package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/identity"
	"github.com/harperreed/rolodex/models"
)

// ObserveCommand records one sighting of a sender.
func ObserveCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("observe", flag.ContinueOnError)
	fs.SetOutput(app.out())
	email := fs.String("email", "", "Sender email address (required)")
	name := fs.String("name", "", "Sender display name")
	org := fs.String("org", "", "Organization")
	phone := fs.String("phone", "", "Phone numbers, comma separated")
	subject := fs.String("subject", "", "Message subject")
	signature := fs.String("signature", "", "Signature block text")
	messageID := fs.String("message-id", "", "Message id; repeats are counted once")
	at := fs.String("at", "", "Time the message was received (RFC3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	occ := identity.Occurrence{
		OccurrenceID:  *messageID,
		DisplayName:   *name,
		Organization:  *org,
		PhoneNumbers:  splitList(*phone),
		Subject:       *subject,
		SignatureText: *signature,
	}
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		occ.ObservedAt = t
	}

	res, err := app.Service.ObserveContact(context.Background(), app.owner(), *email, occ)
	if err != nil {
		return fmt.Errorf("failed to observe contact: %w", err)
	}

	c := res.Contact
	switch {
	case res.Duplicate:
		app.printf("✓ Already counted: %s (ID: %s)\n", c.Email, c.ID)
	case res.Created:
		app.printf("✓ New contact: %s (ID: %s)\n", c.Email, c.ID)
	default:
		app.printf("✓ Contact updated: %s (ID: %s)\n", c.Email, c.ID)
	}
	app.printf("  Seen: %d time(s)\n", c.EmailCount)
	if c.SourceType != models.SourceNone {
		app.printf("  Type: %s (confidence %.2f)\n", c.SourceType, c.ConfidenceScore)
	}
	if res.Classification != nil {
		app.printf("  Classifier: %s\n", res.Classification.Kind())
	}

	switch res.Action.Kind {
	case identity.ActionVerify:
		app.printf("  ✓ Verified automatically (%s)\n", res.Action.Method)
	case identity.ActionEnqueue:
		app.printf("  → Queued for review\n")
	}
	return nil
}

// ListContactsCommand lists contacts with optional filters.
func ListContactsCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("contacts list", flag.ContinueOnError)
	fs.SetOutput(app.out())
	query := fs.String("query", "", "Search by email, name or organization")
	domain := fs.String("domain", "", "Filter by email domain")
	status := fs.String("status", "", "Filter by status: unverified, pending, verified, rejected")
	sourceType := fs.String("type", "", "Filter by source type")
	limit := fs.Int("limit", 50, "Maximum results")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := db.ContactFilter{
		Query:      *query,
		Domain:     *domain,
		Status:     models.VerificationStatus(*status),
		SourceType: models.SourceType(*sourceType),
		Limit:      *limit,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("invalid --status: %s", *status)
	}
	if !filter.SourceType.Valid() {
		return fmt.Errorf("invalid --type: %s", *sourceType)
	}

	contacts, err := app.Service.FindContacts(context.Background(), app.owner(), filter)
	if err != nil {
		return fmt.Errorf("failed to find contacts: %w", err)
	}

	if len(contacts) == 0 {
		app.printf("No contacts found\n")
		return nil
	}

	w := app.table()
	_, _ = fmt.Fprintln(w, "EMAIL\tNAME\tTYPE\tSTATUS\tSEEN\tID")
	_, _ = fmt.Fprintln(w, "-----\t----\t----\t------\t----\t--")
	for _, c := range contacts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			c.Email, dash(c.DisplayName), dash(string(c.SourceType)), c.VerificationStatus, c.EmailCount, shortID(c.ID))
	}
	_ = w.Flush()

	app.printf("\nTotal: %d contact(s)\n", len(contacts))
	return nil
}

// ShowContactCommand prints one contact with its directory sources.
func ShowContactCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("contacts show", flag.ContinueOnError)
	fs.SetOutput(app.out())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("contact ID is required")
	}
	id, err := parseUUID("contact ID", fs.Arg(0))
	if err != nil {
		return err
	}

	ctx := context.Background()
	c, err := app.Service.GetContact(ctx, app.owner(), id)
	if err != nil {
		return fmt.Errorf("contact not found: %w", err)
	}
	sources, err := app.Service.ContactSources(ctx, app.owner(), id)
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}

	app.printf("%s\n", c.Email)
	app.printf("  ID:           %s\n", c.ID)
	app.printf("  Name:         %s\n", dash(c.DisplayName))
	app.printf("  Organization: %s\n", dash(c.Organization))
	app.printf("  Type:         %s (confidence %.2f)\n", dash(string(c.SourceType)), c.ConfidenceScore)
	app.printf("  Status:       %s\n", c.VerificationStatus)
	if c.VerifiedAt != nil {
		app.printf("  Verified:     %s via %s\n", c.VerifiedAt.Format("2006-01-02 15:04"), c.VerificationMethod)
	}
	app.printf("  Seen:         %d time(s), %s to %s\n", c.EmailCount,
		c.FirstSeen.Format("2006-01-02"), c.LastSeen.Format("2006-01-02"))
	if len(c.Tags) > 0 {
		app.printf("  Tags:         %s\n", strings.Join(c.Tags, ", "))
	}
	if len(c.PhoneNumbers) > 0 {
		app.printf("  Phones:       %s\n", strings.Join(c.PhoneNumbers, ", "))
	}
	for _, s := range sources {
		app.printf("  Source:       %s %s (%s)\n", s.Provider, s.ExternalResourceName, s.AccountEmail)
	}
	return nil
}

// DeleteContactCommand deletes a contact and everything linked to it.
func DeleteContactCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("contacts delete", flag.ContinueOnError)
	fs.SetOutput(app.out())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("contact ID is required")
	}
	id, err := parseUUID("contact ID", fs.Arg(0))
	if err != nil {
		return err
	}

	if err := app.Service.DeleteContact(context.Background(), app.owner(), id); err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}

	app.printf("✓ Contact deleted: %s\n", id)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
