// ABOUTME: Provider abstraction for external contact directories
// ABOUTME: Records, pages and the cursor-expired signal shared by every directory adapter
package directory

import (
	"context"
	"errors"
)

// ErrCursorExpired is returned by a Provider when the sync token it was given
// is no longer accepted. The caller must fall back to a full listing.
var ErrCursorExpired = errors.New("directory sync cursor expired")

// Record is one entry of an external directory.
type Record struct {
	ResourceName string
	ExternalID   string
	Etag         string
	// Deleted marks a tombstone returned by an incremental listing.
	Deleted      bool
	Email        string
	DisplayName  string
	Organization string
	Notes        string
	PhoneNumbers []string
	Addresses    []string
}

// ListRequest asks for one page. An empty SyncToken requests a full listing.
type ListRequest struct {
	SyncToken string
	PageToken string
}

type Page struct {
	Records       []Record
	NextPageToken string
	// NextSyncToken is only meaningful on the last page.
	NextSyncToken string
}

// Provider lists one account's directory.
type Provider interface {
	List(ctx context.Context, req ListRequest) (*Page, error)
}

// Connector opens a Provider for an (owner, account) pair using stored credentials.
type Connector interface {
	Connect(ctx context.Context, ownerID, accountEmail string) (Provider, error)
}

// ConnectorFunc adapts a function to a Connector.
type ConnectorFunc func(ctx context.Context, ownerID, accountEmail string) (Provider, error)

func (f ConnectorFunc) Connect(ctx context.Context, ownerID, accountEmail string) (Provider, error) {
	return f(ctx, ownerID, accountEmail)
}
