// ABOUTME: Verification queue CLI commands
// ABOUTME: List pending suggestions and approve, reject, modify or approve a whole domain
package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/harperreed/rolodex/identity"
	"github.com/harperreed/rolodex/models"
)

// QueueListCommand lists verification queue items.
func QueueListCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("queue list", flag.ContinueOnError)
	fs.SetOutput(app.out())
	status := fs.String("status", "pending", "pending, approved, rejected, modified or all")
	domain := fs.String("domain", "", "Only items for this email domain")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var filter *models.QueueStatus
	if *status != "all" {
		s := models.QueueStatus(*status)
		filter = &s
	}

	entries, err := app.Service.ListQueue(context.Background(), app.owner(), filter)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}

	want := strings.ToLower(strings.TrimPrefix(*domain, "@"))
	w := app.table()
	_, _ = fmt.Fprintln(w, "QUEUE ID\tEMAIL\tSUGGESTED\tCONFIDENCE\tSTATUS\tCONTACT ID")
	_, _ = fmt.Fprintln(w, "--------\t-----\t---------\t----------\t------\t----------")
	shown := 0
	for _, e := range entries {
		if want != "" && e.Domain != want {
			continue
		}
		shown++
		confidence := "-"
		if e.Confidence != nil {
			confidence = fmt.Sprintf("%.2f", *e.Confidence)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Email, dash(string(e.SuggestedType)), confidence, e.Status, e.ContactID)
	}

	if shown == 0 {
		app.printf("No queue items found\n")
		return nil
	}
	_ = w.Flush()
	app.printf("\nTotal: %d item(s)\n", shown)
	return nil
}

// queueArgs parses "<queue-id> [contact-id]" positional arguments.
func queueArgs(fs *flag.FlagSet, needContact bool) (queueID, contactID string, err error) {
	if fs.NArg() < 1 {
		return "", "", fmt.Errorf("queue ID is required")
	}
	if needContact && fs.NArg() < 2 {
		return "", "", fmt.Errorf("contact ID is required")
	}
	return fs.Arg(0), fs.Arg(1), nil
}

// ApproveCommand approves one queue item.
func ApproveCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("queue approve", flag.ContinueOnError)
	fs.SetOutput(app.out())
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, c, err := queueArgs(fs, true)
	if err != nil {
		return err
	}
	queueID, err := parseUUID("queue ID", q)
	if err != nil {
		return err
	}
	contactID, err := parseUUID("contact ID", c)
	if err != nil {
		return err
	}

	res, err := app.Service.Approve(context.Background(), app.owner(), queueID, contactID)
	if err != nil {
		return fmt.Errorf("failed to approve: %w", err)
	}
	app.printResolution("Approved", res)
	return nil
}

// RejectCommand rejects one queue item.
func RejectCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("queue reject", flag.ContinueOnError)
	fs.SetOutput(app.out())
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, _, err := queueArgs(fs, false)
	if err != nil {
		return err
	}
	queueID, err := parseUUID("queue ID", q)
	if err != nil {
		return err
	}

	res, err := app.Service.Reject(context.Background(), app.owner(), queueID)
	if err != nil {
		return fmt.Errorf("failed to reject: %w", err)
	}
	app.printResolution("Rejected", res)
	return nil
}

// ModifyCommand corrects a suggestion and verifies the contact with it.
func ModifyCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("queue modify", flag.ContinueOnError)
	fs.SetOutput(app.out())
	sourceType := fs.String("type", "", "Corrected source type")
	tags := fs.String("tags", "", "Corrected tags, comma separated")
	reasoning := fs.String("reason", "", "Reviewer note")
	confidence := fs.Float64("confidence", -1, "Corrected confidence between 0 and 1")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, c, err := queueArgs(fs, true)
	if err != nil {
		return err
	}
	queueID, err := parseUUID("queue ID", q)
	if err != nil {
		return err
	}
	contactID, err := parseUUID("contact ID", c)
	if err != nil {
		return err
	}

	var update identity.QueueUpdate
	if *sourceType != "" {
		t := models.SourceType(*sourceType)
		update.SuggestedType = &t
	}
	if *tags != "" {
		update.SuggestedTags = splitList(*tags)
	}
	if *reasoning != "" {
		update.Reasoning = reasoning
	}
	if *confidence >= 0 {
		update.Confidence = confidence
	}

	res, err := app.Service.Modify(context.Background(), app.owner(), queueID, contactID, update)
	if err != nil {
		return fmt.Errorf("failed to modify: %w", err)
	}
	app.printResolution("Modified", res)
	return nil
}

// ApproveDomainCommand approves every pending item for one domain.
func ApproveDomainCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("queue approve-domain", flag.ContinueOnError)
	fs.SetOutput(app.out())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("domain is required")
	}

	res, err := app.Service.BatchApproveByDomain(context.Background(), app.owner(), fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to approve domain: %w", err)
	}

	for _, item := range res.Items {
		if item.OK {
			app.printf("  ✓ %s\n", item.Email)
		} else {
			app.printf("  ✗ %s: %s\n", item.Email, item.Error)
		}
	}
	app.printf("\n✓ %s: %d approved, %d failed\n", res.Domain, res.Approved, res.Failed)
	return nil
}

func (a *App) printResolution(verb string, res *identity.Resolution) {
	a.printf("✓ %s: %s\n", verb, res.Contact.Email)
	a.printf("  Status: %s\n", res.Contact.VerificationStatus)
	if res.Contact.SourceType != models.SourceNone {
		a.printf("  Type:   %s\n", res.Contact.SourceType)
	}
	if len(res.Contact.Tags) > 0 {
		a.printf("  Tags:   %s\n", strings.Join(res.Contact.Tags, ", "))
	}
}
