package twilio

import (
	"cmp"
	"net/http"
	"net/url"
	"slices"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
)

// endedStatuses are the CallStatus values after which Twilio sends no more
// media for the call.
var endedStatuses = []string{"completed", "busy", "no-answer", "failed", "canceled"}

func callEnded(status string) bool {
	return slices.Contains(endedStatuses, strings.ToLower(strings.TrimSpace(status)))
}

// signedByTwilio checks X-Twilio-Signature against the URL Twilio requested
// and the posted form. It consumes the form, so handlers read values with
// r.FormValue afterwards.
func (t *Transport) signedByTwilio(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || t.cfg.AuthToken == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		params[k] = v[0]
	}
	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.Validate(t.webhookURL(r), params, signature)
}

// webhookURL rebuilds the absolute URL of a webhook request. The configured
// public URL wins over what a proxy forwarded.
func (t *Transport) webhookURL(r *http.Request) string {
	if base := strings.TrimRight(t.cfg.PublicURL, "/"); base != "" {
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
		return base + r.URL.RequestURI()
	}
	u := url.URL{
		Scheme: cmp.Or(r.Header.Get("X-Forwarded-Proto"), "https"),
		Host:   cmp.Or(r.Host, strings.TrimPrefix(t.cfg.ServerAddr, ":")),
	}
	return u.String() + r.URL.RequestURI()
}

// checkOrigin admits clients that send no Origin, which includes Twilio,
// and origins listed in allowed_origins as a full origin or a bare host.
func (t *Transport) checkOrigin(r *http.Request) bool {
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" || t.cfg.AllowAnyOrigin {
		return true
	}
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}
	return slices.ContainsFunc(t.cfg.AllowedOrigins, func(allowed string) bool {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		if strings.Contains(allowed, "://") {
			return strings.EqualFold(allowed, origin)
		}
		return allowed != "" && strings.EqualFold(allowed, host)
	})
}
