package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMintEmptyKeyIsAuthError(t *testing.T) {
	p := NewProvider("http://unused.invalid/tokens", nil)

	_, err := p.Mint(context.Background(), "   ")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Mint(empty key) err=%v, want *AuthError", err)
	}
}

func TestMintRejectedKeyIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewProvider(server.URL, nil)
	_, err := p.Mint(context.Background(), "bad-key")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Mint(rejected key) err=%v, want *AuthError", err)
	}
}

func TestMintSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer good-key" {
			t.Errorf("Authorization=%q, want %q", got, "Bearer good-key")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"eph-123","expires_at":"2026-08-30T12:00:00Z"}`))
	}))
	defer server.Close()

	p := NewProvider(server.URL, nil)
	minted, err := p.Mint(context.Background(), "good-key")
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}
	if minted.Token != "eph-123" {
		t.Fatalf("token=%q, want %q", minted.Token, "eph-123")
	}
}

func TestMintServerErrorIsNotAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewProvider(server.URL, nil)
	_, err := p.Mint(context.Background(), "good-key")
	if err == nil {
		t.Fatal("Mint error=nil, want non-nil")
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		t.Fatalf("Mint(502) err=%v, want non-auth error", err)
	}
}
