package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/obs"
)

const serviceName = "tessera-auth"

// ReadyProbe pings the database for readiness.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// CookieConfig shapes the session cookie.
type CookieConfig struct {
	Name string
	// CrossSite switches to SameSite=None; Secure for front ends on another site.
	CrossSite bool
	Secure    bool
}

// Options configures the HTTP layer.
type Options struct {
	Version        string
	Ready          ReadyProbe
	Cookie         CookieConfig
	NextURLBase    string
	AllowedOrigins []string
	RateBurst      int
	RatePerSecond  float64
	MaxBodyBytes   int64
	// TrustedProxies may set the client address through X-Forwarded-For.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	router  *mux.Router
	svc     *auth.Service
	opts    Options
	limiter func(http.Handler) http.Handler
}

// New wires the routes for svc. Zero options take the service defaults.
func New(svc *auth.Service, opts Options) *API {
	if opts.Cookie.Name == "" {
		opts.Cookie.Name = "auth_token"
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		router: mux.NewRouter(),
		svc:    svc,
		opts:   opts,
	}
	a.limiter = RateLimiter(opts.RateBurst, opts.RatePerSecond, NewClientIPResolver(opts.TrustedProxies))
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.Use(obs.Instrument)

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	authRoutes := r.PathPrefix("/auth").Subrouter()
	authRoutes.HandleFunc("/check-email", a.handleCheckEmail).Methods(http.MethodGet)
	authRoutes.HandleFunc("/me", a.handleMe).Methods(http.MethodGet)
	authRoutes.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)
	authRoutes.Handle("/users", a.requireSession(http.HandlerFunc(a.handleListUsers))).Methods(http.MethodGet)

	// Credential-bearing endpoints share one per-IP limiter.
	limited := authRoutes.NewRoute().Subrouter()
	limited.Use(a.limiter)
	limited.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	limited.HandleFunc("/ott/exchange", a.handleExchange).Methods(http.MethodPost)
	limited.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	limited.HandleFunc("/change-password", a.handleChangePassword).Methods(http.MethodPost)
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(a.opts.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.opts.Ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "database unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}
