package google

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Scopes the portal's API clients are bound to.
var Scopes = []string{
	drive.DriveReadonlyScope,
	sheets.SpreadsheetsScope,
}

// Clients bundles the API clients built from one service account.
type Clients struct {
	Drive               *drive.Service
	Sheets              *sheets.Service
	ServiceAccountEmail string
}

// Factory parses the credential blob and builds the clients on first use.
// A successful build is kept for the life of the process; a failed one is
// retried on the next call.
type Factory struct {
	raw string

	mu      sync.Mutex
	sa      *ServiceAccount
	clients *Clients
}

// NewFactory returns a Factory for the given credential blob.
func NewFactory(raw string) *Factory {
	return &Factory{raw: raw}
}

// Clients returns the Drive and Sheets clients, building them if needed.
func (f *Factory) Clients(ctx context.Context) (*Clients, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.clients != nil {
		return f.clients, nil
	}

	ts, err := f.tokenSourceLocked(Scopes...)
	if err != nil {
		return nil, err
	}

	driveSvc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	sheetsSvc, err := sheets.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}

	f.clients = &Clients{
		Drive:               driveSvc,
		Sheets:              sheetsSvc,
		ServiceAccountEmail: f.sa.ClientEmail,
	}
	return f.clients, nil
}

// TokenSource returns a token source for the service account with the given
// scopes. Used by the GCS snapshot backend, which needs a storage scope.
func (f *Factory) TokenSource(scopes ...string) (oauth2.TokenSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenSourceLocked(scopes...)
}

func (f *Factory) tokenSourceLocked(scopes ...string) (oauth2.TokenSource, error) {
	if f.sa == nil {
		sa, err := ParseServiceAccount(f.raw)
		if err != nil {
			return nil, err
		}
		f.sa = sa
	}

	tokenURL := f.sa.TokenURI
	if tokenURL == "" {
		tokenURL = googleoauth.JWTTokenURL
	}
	cfg := &jwt.Config{
		Email:        f.sa.ClientEmail,
		PrivateKey:   []byte(f.sa.PrivateKey),
		PrivateKeyID: f.sa.PrivateKeyID,
		Scopes:       scopes,
		TokenURL:     tokenURL,
	}
	// Token sources outlive the request that first builds them.
	return cfg.TokenSource(context.Background()), nil
}
