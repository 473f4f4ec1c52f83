/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseRoundTrip(t *testing.T) {
	secret := []byte("test-secret")

	token, err := Issue(secret, Claims{UserID: "u-1", Roles: []string{"operator"}}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u-1" {
		t.Errorf("UserID = %q, want u-1", claims.UserID)
	}
	if !claims.HasRole("operator") {
		t.Error("expected operator role")
	}
	if claims.HasRole("admin") {
		t.Error("did not expect admin role")
	}
	if claims.Subject != "u-1" {
		t.Errorf("Subject = %q, want u-1", claims.Subject)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := Issue([]byte("secret-a"), Claims{UserID: "u-1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := Parse([]byte("secret-b"), token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")

	token, err := Issue(secret, Claims{UserID: "u-1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := Parse(secret, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestParseRejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")

	raw := jwt.NewWithClaims(jwt.SigningMethodHS384, Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := raw.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := Parse(secret, token); err == nil {
		t.Fatal("expected error for HS384 token")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("test-secret"), "not.a.token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
