package capability

import (
	"testing"
	"time"
)

func TestMintAndVerify(t *testing.T) {
	m := NewMinter([]byte("secret"))
	tok, err := m.Mint(time.Minute)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := m.Verify(tok); err != nil {
		t.Fatalf("Verify() error = %v, want nil", err)
	}
}

func TestVerifyRejectsEmptyAndGarbage(t *testing.T) {
	m := NewMinter([]byte("secret"))
	if err := m.Verify(""); err != ErrPermissionDenied {
		t.Errorf("empty token: err = %v, want ErrPermissionDenied", err)
	}
	if err := m.Verify("not-a-jwt"); err != ErrPermissionDenied {
		t.Errorf("garbage token: err = %v, want ErrPermissionDenied", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a := NewMinter([]byte("secret-a"))
	b := NewMinter([]byte("secret-b"))
	tok, _ := a.Mint(time.Minute)
	if err := b.Verify(tok); err != ErrPermissionDenied {
		t.Errorf("wrong key: err = %v, want ErrPermissionDenied", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewMinter([]byte("secret"))
	tok, _ := m.Mint(-time.Minute)
	if err := m.Verify(tok); err != ErrPermissionDenied {
		t.Errorf("expired token: err = %v, want ErrPermissionDenied", err)
	}
}
