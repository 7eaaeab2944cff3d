package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func resolveLocale(t *testing.T, req *http.Request, lookup CountryLookup) (locale, country string) {
	t.Helper()
	handler := I18N("it", lookup)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return locale, country
}

func TestI18NDefaultsToItalian(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	locale, _ := resolveLocale(t, req, nil)
	if locale != "it" {
		t.Fatalf("locale = %q, want it", locale)
	}
}

func TestI18NHonorsXLocaleHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Locale", "en-US")
	locale, _ := resolveLocale(t, req, nil)
	if locale != "en" {
		t.Fatalf("locale = %q, want en", locale)
	}
}

func TestI18NAcceptLanguageNegotiation(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	locale, country := resolveLocale(t, req, nil)
	if locale != "en" {
		t.Fatalf("locale = %q, want en", locale)
	}
	if country != "GB" {
		t.Fatalf("country = %q, want GB from the language region", country)
	}
}

func TestI18NCountryHeaderWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("CF-IPCountry", "it")
	locale, country := resolveLocale(t, req, nil)
	if country != "IT" {
		t.Fatalf("country = %q, want IT", country)
	}
	if locale != "it" {
		t.Fatalf("locale = %q, want it for an italian visitor", locale)
	}
}

func TestI18NGeoIPFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	lookup := func(ip string) (string, error) {
		if ip != "203.0.113.9" {
			t.Fatalf("lookup ip = %q", ip)
		}
		return "fr", nil
	}
	locale, country := resolveLocale(t, req, lookup)
	if country != "FR" {
		t.Fatalf("country = %q, want FR", country)
	}
	if locale != "en" {
		t.Fatalf("locale = %q, want en for a non-italian country", locale)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := ClientIP(req); got != "198.51.100.7" {
		t.Fatalf("client ip = %q", got)
	}
}
