package httpx

import "testing"

func TestMatchOrigin(t *testing.T) {
	allowed := []string{"https://eleva.care", "https://*.eleva.care"}

	cases := []struct {
		origin string
		want   bool
	}{
		{"https://eleva.care", true},
		{"https://app.eleva.care", true},
		{"https://APP.eleva.care", true},
		{"https://deep.app.eleva.care", false}, // wildcard covers one label
		{"http://app.eleva.care", false},       // scheme must match
		{"https://evil-eleva.care", false},
		{"https://eleva.care.evil.com", false},
	}
	for _, tc := range cases {
		if _, ok := matchOrigin(tc.origin, allowed, false); ok != tc.want {
			t.Errorf("matchOrigin(%q) = %v, want %v", tc.origin, ok, tc.want)
		}
	}
}

func TestMatchOriginWildcardWithCredentials(t *testing.T) {
	origin, ok := matchOrigin("https://any.example.com", []string{"*"}, true)
	if !ok || origin != "https://any.example.com" {
		t.Fatalf("expected echoed origin with credentials, got %q ok=%v", origin, ok)
	}
	origin, ok = matchOrigin("https://any.example.com", []string{"*"}, false)
	if !ok || origin != "*" {
		t.Fatalf("expected literal wildcard without credentials, got %q ok=%v", origin, ok)
	}
}
