package server

import (
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"http://localhost:3000", "not a url", "HTTPS://App.Example"}, discardLogger())

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"https://app.example", true},
		{"https://app.example/path", true},
		{"http://localhost:3001", false},
		{"", false},
		{"null", false},
	}
	for _, tt := range tests {
		if got := p.allows(tt.origin); got != tt.want {
			t.Errorf("allows(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	if want := []string{"http://localhost:3000", "https://app.example"}; !reflect.DeepEqual(p.corsOrigins(), want) {
		t.Errorf("corsOrigins() = %v, want %v", p.corsOrigins(), want)
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	p := newOriginPolicy([]string{"*"}, discardLogger())
	if !p.allows("http://anything.example") {
		t.Fatal("wildcard should allow any well-formed origin")
	}
	if p.allows("") {
		t.Fatal("a missing origin is never allowed")
	}
	if !reflect.DeepEqual(p.corsOrigins(), []string{"*"}) {
		t.Fatalf("corsOrigins() = %v", p.corsOrigins())
	}
}

func TestCheckOrigin(t *testing.T) {
	p := newOriginPolicy([]string{"http://localhost:3000"}, discardLogger())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://evil.example")
	if p.checkOrigin(r) {
		t.Fatal("disallowed origin accepted")
	}
	r.Header.Set("Origin", "http://localhost:3000")
	if !p.checkOrigin(r) {
		t.Fatal("allowed origin rejected")
	}
}
