package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// corsPolicy describes the cross-origin access granted to browser clients.
// The node serves local dashboards, so the default is a wide-open policy.
type corsPolicy struct {
	origin  string
	methods []string
	headers []string
	maxAge  int
}

func openCORSPolicy() corsPolicy {
	return corsPolicy{
		origin:  "*",
		methods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		headers: []string{"Content-Type", "Authorization", "Accept", "Origin"},
		maxAge:  86400,
	}
}

type headerWriter interface {
	SetHeader(name, value string)
}

func (p corsPolicy) apply(w headerWriter) {
	w.SetHeader("Access-Control-Allow-Origin", p.origin)
	w.SetHeader("Access-Control-Allow-Methods", strings.Join(p.methods, ", "))
	w.SetHeader("Access-Control-Allow-Headers", strings.Join(p.headers, ", "))
	w.SetHeader("Access-Control-Max-Age", strconv.Itoa(p.maxAge))
}

// middleware stamps CORS headers on every API response.
func (p corsPolicy) middleware(ctx huma.Context, next func(huma.Context)) {
	p.apply(ctx)
	if ctx.Method() == http.MethodOptions {
		ctx.SetStatus(http.StatusNoContent)
		return
	}
	next(ctx)
}

type responseHeaders struct{ http.Header }

func (h responseHeaders) SetHeader(name, value string) { h.Set(name, value) }

// registerPreflight answers OPTIONS requests at the mux level. Huma
// middleware only runs for routed operations, so preflights for paths it
// never registered would otherwise 404.
func (p corsPolicy) registerPreflight(mux *http.ServeMux) {
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		p.apply(responseHeaders{w.Header()})
		w.WriteHeader(http.StatusNoContent)
	})
}
