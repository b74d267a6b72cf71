package auth

import (
	"testing"
	"time"
)

func TestSignParseJWT(t *testing.T) {
	token, err := SignJWT(42, "vendor", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseJWT(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 || claims.Role != "vendor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseJWT_WrongSecret(t *testing.T) {
	token, err := SignJWT(42, "vendor", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, "other-secret"); err == nil {
		t.Fatalf("expected parse failure with wrong secret")
	}
}

func TestParseJWT_Expired(t *testing.T) {
	token, err := SignJWT(42, "vendor", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, "secret"); err == nil {
		t.Fatalf("expected parse failure for expired token")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "hunter2!") {
		t.Fatalf("correct password rejected")
	}
	if CheckPassword(hash, "hunter3!") {
		t.Fatalf("wrong password accepted")
	}
}
