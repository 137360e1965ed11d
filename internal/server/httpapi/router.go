// Package httpapi is the HTTP surface of the server: the WebSocket connect
// route, account routes authenticated by the token index, and the internal
// API used by other backend components.
package httpapi

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/livesync/internal/config"
	"github.com/and161185/livesync/internal/model"
)

// TokenResolver maps access tokens to accounts.
type TokenResolver interface {
	Resolve(token model.AccessToken) (uuid.UUID, bool)
	ResolveWithAddress(token model.AccessToken, addr netip.Addr) (uuid.UUID, bool)
}

// Auth registers accounts and signs them in.
type Auth interface {
	Register(ctx context.Context, username, password string) (uuid.UUID, error)
	Login(ctx context.Context, username, password string) (uuid.UUID, model.AuthPair, error)
}

// Accounts reads account state and applies sync-versioned changes.
type Accounts interface {
	Account(ctx context.Context, id uuid.UUID) (model.Account, error)
	AccountChanged(ctx context.Context, id uuid.UUID, mutate func(a *model.Account)) (model.Account, error)
	CategoryChanged(ctx context.Context, id uuid.UUID, t model.SyncDataType) (model.SyncVersion, error)
	MessageReceived(ctx context.Context, id uuid.UUID) error
}

// Deps are the collaborators of the router. Gatherer may be nil to skip /metrics.
type Deps struct {
	Version     string
	Auth        Auth
	Accounts    Accounts
	Tokens      TokenResolver
	Connect     http.Handler
	Components  config.Components
	InternalKey []byte
	Gatherer    prometheus.Gatherer
	Log         *zap.Logger
}

type api struct {
	version    string
	auth       Auth
	accounts   Accounts
	tokens     TokenResolver
	components config.Components
	log        *zap.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	a := &api{
		version:    d.Version,
		auth:       d.Auth,
		accounts:   d.Accounts,
		tokens:     d.Tokens,
		components: d.Components,
		log:        log,
	}

	r := chi.NewRouter()
	r.Use(Recover(log), Logging(log))

	r.Route("/common_api", func(r chi.Router) {
		r.Get("/version", a.getVersion)
		if d.Connect != nil {
			r.Method(http.MethodGet, "/connect", d.Connect)
		}
	})

	r.Route("/account_api", func(r chi.Router) {
		r.Post("/register", a.postRegister)
		r.Post("/login", a.postLogin)
		r.Group(func(r chi.Router) {
			r.Use(RequireAccessToken(d.Tokens))
			r.Get("/state", a.getAccountState)
			r.Put("/profile_visibility", a.putProfileVisibility)
		})
	})

	r.Route("/internal_api", func(r chi.Router) {
		r.Use(RequireInternalJWT(d.InternalKey))
		r.Post("/check_access_token", a.postCheckAccessToken)
		r.Post("/sync_changed", a.postSyncChanged)
	})

	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
