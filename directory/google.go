// ABOUTME: Google People API directory adapter
// ABOUTME: Lists connections with sync tokens and maps expired tokens to ErrCursorExpired
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"

	"github.com/harperreed/rolodex/apperr"
)

const (
	peopleService   = "google people"
	personFields    = "names,emailAddresses,phoneNumbers,organizations,biographies,addresses,metadata"
	defaultPageSize = 1000
)

// GoogleConnector opens People API providers from stored OAuth tokens.
type GoogleConnector struct {
	config  *oauth2.Config
	tokens  *TokenStore
	breaker *gobreaker.CircuitBreaker
	options []option.ClientOption
	log     zerolog.Logger
}

// NewGoogleConnector builds a connector. Extra client options are passed to
// every People service it creates.
func NewGoogleConnector(config *oauth2.Config, tokens *TokenStore, log zerolog.Logger, opts ...option.ClientOption) *GoogleConnector {
	logger := log.With().Str("component", "google-people").Logger()
	return &GoogleConnector{
		config:  config,
		tokens:  tokens,
		breaker: newPeopleBreaker(logger),
		options: opts,
		log:     logger,
	}
}

func newPeopleBreaker(log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "google-people",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// An expired cursor is a normal answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || isExpiredSyncToken(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

func (c *GoogleConnector) Connect(ctx context.Context, ownerID, accountEmail string) (Provider, error) {
	if c.config == nil || c.config.ClientID == "" || c.config.ClientSecret == "" {
		return nil, apperr.External(peopleService,
			fmt.Errorf("google OAuth credentials not configured, set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET"))
	}

	ts, err := c.tokens.TokenSource(ctx, c.config, ownerID, accountEmail)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.External(peopleService,
				fmt.Errorf("no token for %s, run 'rolodex sync init --account %s' first", accountEmail, accountEmail))
		}
		return nil, apperr.External(peopleService, err)
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}, c.options...)
	svc, err := people.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.External(peopleService, fmt.Errorf("failed to create People service: %w", err))
	}
	return &PeopleProvider{svc: svc, breaker: c.breaker, pageSize: defaultPageSize}, nil
}

// PeopleProvider lists the authenticated user's connections.
type PeopleProvider struct {
	svc      *people.Service
	breaker  *gobreaker.CircuitBreaker
	pageSize int64
}

// NewPeopleProvider wraps an existing People service.
func NewPeopleProvider(svc *people.Service, log zerolog.Logger) *PeopleProvider {
	return &PeopleProvider{svc: svc, breaker: newPeopleBreaker(log), pageSize: defaultPageSize}
}

func (p *PeopleProvider) List(ctx context.Context, req ListRequest) (*Page, error) {
	call := p.svc.People.Connections.List("people/me").
		PersonFields(personFields).
		PageSize(p.pageSize).
		RequestSyncToken(true).
		Context(ctx)
	if req.SyncToken != "" {
		call = call.SyncToken(req.SyncToken)
	}
	if req.PageToken != "" {
		call = call.PageToken(req.PageToken)
	}

	out, err := p.breaker.Execute(func() (interface{}, error) {
		return call.Do()
	})
	if err != nil {
		if isExpiredSyncToken(err) {
			return nil, fmt.Errorf("%w: %v", ErrCursorExpired, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.External(peopleService, err)
	}

	resp := out.(*people.ListConnectionsResponse)
	page := &Page{
		NextPageToken: resp.NextPageToken,
		NextSyncToken: resp.NextSyncToken,
	}
	for _, person := range resp.Connections {
		page.Records = append(page.Records, convertPerson(person))
	}
	return page, nil
}

// isExpiredSyncToken matches HTTP 410, or a 400 whose body names EXPIRED_SYNC_TOKEN.
func isExpiredSyncToken(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case http.StatusGone:
		return true
	case http.StatusBadRequest:
		if strings.Contains(gerr.Body, "EXPIRED_SYNC_TOKEN") || strings.Contains(gerr.Message, "EXPIRED_SYNC_TOKEN") {
			return true
		}
		for _, item := range gerr.Errors {
			if item.Reason == "EXPIRED_SYNC_TOKEN" {
				return true
			}
		}
	}
	return false
}

func convertPerson(person *people.Person) Record {
	rec := Record{
		ResourceName: person.ResourceName,
		ExternalID:   strings.TrimPrefix(person.ResourceName, "people/"),
		Etag:         person.Etag,
	}
	if person.Metadata != nil && person.Metadata.Deleted {
		rec.Deleted = true
		return rec
	}

	if len(person.Names) > 0 {
		rec.DisplayName = person.Names[0].DisplayName
	}

	// Prefer the primary address, otherwise the first one.
	for _, email := range person.EmailAddresses {
		if email.Value == "" {
			continue
		}
		if rec.Email == "" {
			rec.Email = email.Value
		}
		if email.Metadata != nil && email.Metadata.Primary {
			rec.Email = email.Value
			break
		}
	}

	for _, phone := range person.PhoneNumbers {
		if phone.Value != "" {
			rec.PhoneNumbers = append(rec.PhoneNumbers, phone.Value)
		}
	}
	for _, addr := range person.Addresses {
		if addr.FormattedValue != "" {
			rec.Addresses = append(rec.Addresses, addr.FormattedValue)
		}
	}
	if len(person.Organizations) > 0 {
		rec.Organization = person.Organizations[0].Name
	}
	if len(person.Biographies) > 0 {
		rec.Notes = person.Biographies[0].Value
	}
	return rec
}
