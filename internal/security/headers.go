package security

import (
	"net/http"
	"strconv"
	"time"
)

const apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"

// APIHeaders sets response headers for a JSON-only API. Answers carry order and payment
// identifiers, so every response is marked uncacheable.
type APIHeaders struct {
	// HSTS is the Strict-Transport-Security max-age sent on TLS requests. Zero disables it.
	HSTS time.Duration
	// HSTSSubdomains appends includeSubDomains to the HSTS header.
	HSTSSubdomains bool
}

// Middleware attaches the headers before the handler runs.
func (h APIHeaders) Middleware(next http.Handler) http.Handler {
	hsts := h.hstsValue()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := w.Header()
		out.Set("X-Content-Type-Options", "nosniff")
		out.Set("X-Frame-Options", "DENY")
		out.Set("Referrer-Policy", "no-referrer")
		out.Set("Cross-Origin-Resource-Policy", "same-site")
		out.Set("Content-Security-Policy", apiCSP)
		out.Set("Cache-Control", "no-store")
		if hsts != "" && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
			out.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (h APIHeaders) hstsValue() string {
	secs := int64(h.HSTS / time.Second)
	if secs <= 0 {
		return ""
	}
	v := "max-age=" + strconv.FormatInt(secs, 10)
	if h.HSTSSubdomains {
		v += "; includeSubDomains"
	}
	return v
}

// HeadersFor returns the header policy for an environment. HSTS is only sent in production
// so local plain-HTTP setups are not pinned.
func HeadersFor(appEnv string) APIHeaders {
	if appEnv == "production" {
		return APIHeaders{HSTS: 365 * 24 * time.Hour, HSTSSubdomains: true}
	}
	return APIHeaders{}
}
