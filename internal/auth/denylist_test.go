package auth

import (
	"context"
	"testing"
	"time"
)

func TestDenyListEntriesExpire(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	d := NewMemoryDenyList()
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if err := d.Revoke(ctx, "tok-1", time.Hour); err != nil {
		t.Fatal(err)
	}
	if revoked, _ := d.IsRevoked(ctx, "tok-1"); !revoked {
		t.Fatal("fresh entry not revoked")
	}

	// The entry lives exactly as long as the token it blocks.
	now = now.Add(61 * time.Minute)
	if revoked, _ := d.IsRevoked(ctx, "tok-1"); revoked {
		t.Fatal("entry survived its TTL")
	}
	if revoked, _ := d.IsRevoked(ctx, "never-added"); revoked {
		t.Fatal("unknown id reported revoked")
	}
}

func TestDenyListNeverShortensEntries(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	d := NewMemoryDenyList()
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if err := d.Revoke(ctx, "fam-1", 2*time.Hour); err != nil {
		t.Fatal(err)
	}
	// A later, shorter revocation must not cut the first one short.
	if err := d.Revoke(ctx, "fam-1", time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(90 * time.Minute)
	if revoked, _ := d.IsRevoked(ctx, "fam-1"); !revoked {
		t.Fatal("entry expired early")
	}
}

func TestDenyListIgnoresEmptyAndNonPositive(t *testing.T) {
	d := NewMemoryDenyList()
	ctx := context.Background()

	if err := d.Revoke(ctx, "", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := d.Revoke(ctx, "tok-1", 0); err != nil {
		t.Fatal(err)
	}
	if revoked, _ := d.IsRevoked(ctx, "tok-1"); revoked {
		t.Fatal("zero-ttl revoke should be a no-op")
	}
}
