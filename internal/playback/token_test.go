package playback

import (
	"testing"
	"time"
)

func TestTokenMinter_Deterministic(t *testing.T) {
	minter := NewTokenMinter("test-secret")
	issuedAt := time.Unix(1700000000, 0)

	t1 := minter.Mint("asset-1", "user-1", "device-1", issuedAt)
	t2 := minter.Mint("asset-1", "user-1", "device-1", issuedAt)

	if t1 != t2 {
		t.Error("same binding should mint the same token")
	}
	if len(t1) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(t1))
	}
}

func TestTokenMinter_BindingChangesToken(t *testing.T) {
	minter := NewTokenMinter("test-secret")
	issuedAt := time.Unix(1700000000, 0)
	base := minter.Mint("asset-1", "user-1", "device-1", issuedAt)

	variants := map[string]string{
		"asset":  minter.Mint("asset-2", "user-1", "device-1", issuedAt),
		"user":   minter.Mint("asset-1", "user-2", "device-1", issuedAt),
		"device": minter.Mint("asset-1", "user-1", "device-2", issuedAt),
		"time":   minter.Mint("asset-1", "user-1", "device-1", issuedAt.Add(time.Second)),
	}

	for field, token := range variants {
		if token == base {
			t.Errorf("changing %s did not change the token", field)
		}
	}
}

func TestTokenMinter_Verify(t *testing.T) {
	minter := NewTokenMinter("test-secret")
	issuedAt := time.Unix(1700000000, 0)
	token := minter.Mint("asset-1", "user-1", "device-1", issuedAt)

	if !minter.Verify(token, "asset-1", "user-1", "device-1", issuedAt) {
		t.Error("Verify() rejected a valid token")
	}
	if minter.Verify(token, "asset-1", "user-2", "device-1", issuedAt) {
		t.Error("Verify() accepted a token for the wrong user")
	}

	otherMinter := NewTokenMinter("other-secret")
	if otherMinter.Verify(token, "asset-1", "user-1", "device-1", issuedAt) {
		t.Error("Verify() accepted a token minted with a different secret")
	}
}
