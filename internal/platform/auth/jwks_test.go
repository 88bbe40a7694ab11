package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwksServer struct {
	*httptest.Server
	hits atomic.Int32
	fail atomic.Bool
}

func newJWKSServer(t *testing.T, keys map[string]*rsa.PublicKey) *jwksServer {
	t.Helper()
	s := &jwksServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body struct {
			Keys []jwk `json:"keys"`
		}
		for kid, pub := range keys {
			body.Keys = append(body.Keys, jwk{
				Kty: "RSA",
				Kid: kid,
				Use: "sig",
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	key := rsaKey(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{"k1": &key.PublicKey})
	mw := JWTMiddleware(JWTConfig{JWKSURL: srv.URL, Issuer: "https://clinic"})

	claims := validClaims("doc-1", RoleDoctor)
	claims.Issuer = "https://clinic"
	c, called, err := runMiddleware(t, mw, "Bearer "+signRS256(t, key, "k1", claims))
	if err != nil || !called {
		t.Fatalf("expected success, err=%v called=%v", err, called)
	}
	if got := UserIDFromContext(c.Request().Context()); got != "doc-1" {
		t.Errorf("expected doc-1, got %q", got)
	}

	// A second request is served from the cached key set.
	_, _, _ = runMiddleware(t, mw, "Bearer "+signRS256(t, key, "k1", claims))
	if hits := srv.hits.Load(); hits != 1 {
		t.Errorf("expected 1 JWKS fetch, got %d", hits)
	}
}

func TestJWTMiddleware_JWKSRejectsHS256(t *testing.T) {
	key := rsaKey(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{"k1": &key.PublicKey})
	mw := JWTMiddleware(JWTConfig{JWKSURL: srv.URL})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("u", RoleAdmin))
	token.Header["kid"] = "k1"
	raw, _ := token.SignedString([]byte("guessed"))

	_, _, err := runMiddleware(t, mw, "Bearer "+raw)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestKeySet_UnknownKidRefreshThrottled(t *testing.T) {
	key := rsaKey(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{"k1": &key.PublicKey})
	ks := newKeySet(srv.URL)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ks.now = func() time.Time { return now }

	if _, err := ks.key(context.Background(), "k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := ks.key(context.Background(), "forged"); err == nil {
			t.Fatal("expected unknown kid error")
		}
	}
	if hits := srv.hits.Load(); hits != 1 {
		t.Errorf("expected unknown kids within the refresh interval to reuse the fetch, got %d fetches", hits)
	}

	now = now.Add(jwksMinRefresh)
	_, _ = ks.key(context.Background(), "forged")
	if hits := srv.hits.Load(); hits != 2 {
		t.Errorf("expected a refresh after the interval, got %d fetches", hits)
	}
}

func TestKeySet_ServesStaleKeyWhenIssuerDown(t *testing.T) {
	key := rsaKey(t)
	srv := newJWKSServer(t, map[string]*rsa.PublicKey{"k1": &key.PublicKey})
	ks := newKeySet(srv.URL)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ks.now = func() time.Time { return now }

	if _, err := ks.key(context.Background(), "k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv.fail.Store(true)
	now = now.Add(jwksTTL + time.Second)

	got, err := ks.key(context.Background(), "k1")
	if err != nil {
		t.Fatalf("expected stale key, got %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 {
		t.Error("unexpected key returned")
	}
}

func TestKeySet_EmptyJWKS(t *testing.T) {
	srv := newJWKSServer(t, nil)
	if _, err := newKeySet(srv.URL).key(context.Background(), "k1"); err == nil {
		t.Fatal("expected error for JWKS without keys")
	}
}
