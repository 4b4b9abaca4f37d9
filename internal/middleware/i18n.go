package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// DefaultLocale is used when nothing on the request selects a locale.
const DefaultLocale = "zh"

var (
	supportedLocales = []language.Tag{language.Chinese, language.English}
	localeMatcher    = language.NewMatcher(supportedLocales)
)

// Chinese-speaking regions that get zh when only a country hint is known.
var zhCountries = map[string]bool{"CN": true, "TW": true, "HK": true, "MO": true, "SG": true}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// I18N stores the negotiated locale ("zh" or "en") and any country hint on
// the request context.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	fallback := NormalizeLocale(defaultLocale)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			locale := detectLocale(r, fallback, country)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string, country string) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		if locale, ok := matchLocale(v); ok {
			return locale
		}
	}
	if v := r.Header.Get("Accept-Language"); v != "" {
		if locale, ok := matchLocale(v); ok {
			return locale
		}
	}
	if country != "" {
		if zhCountries[strings.ToUpper(country)] {
			return "zh"
		}
		return "en"
	}
	if fallback != "" {
		return fallback
	}
	return DefaultLocale
}

// matchLocale matches an Accept-Language style list against the supported
// locales. ok is false when nothing matched with any confidence.
func matchLocale(header string) (string, bool) {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return "", false
	}
	_, idx, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	base, _ := supportedLocales[idx].Base()
	return base.String(), true
}

// NormalizeLocale maps a configured locale onto a supported one.
func NormalizeLocale(locale string) string {
	if v, ok := matchLocale(locale); ok {
		return v
	}
	return DefaultLocale
}

// ClientIP returns the host part of the connection address. Forwarded
// headers reach it only through chi's RealIP, which the router mounts when
// proxy headers are trusted.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return DefaultLocale
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry resolves a best-effort ISO country code for the given request.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	headerHints := []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if region := localeRegion(r.Header.Get("X-Locale")); region != "" {
		return region
	}
	if region := localeRegion(r.Header.Get("Accept-Language")); region != "" {
		return region
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// localeRegion returns the explicit region subtag of the first language in
// accept, e.g. "TW" for "zh-TW". Script subtags such as "Hans" are skipped.
func localeRegion(accept string) string {
	for _, part := range strings.Split(accept, ",") {
		token := strings.TrimSpace(strings.Split(part, ";")[0])
		if token == "" {
			continue
		}
		tag, err := language.Parse(token)
		if err != nil {
			return ""
		}
		region, conf := tag.Region()
		if conf != language.Exact {
			return ""
		}
		return region.String()
	}
	return ""
}
