// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package msgcheck

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestChecker(t *testing.T) (*Checker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, 200, 3*time.Second, 20*time.Second, 500), mr
}

func TestLengthBoundary(t *testing.T) {
	c, _ := newTestChecker(t)
	ctx := context.Background()

	exactly200 := strings.Repeat("a", 200)
	if rej := c.Check(ctx, KindChat, 1, 1, exactly200); rej != nil {
		t.Errorf("200 runes rejected: %+v", rej)
	}

	over := strings.Repeat("a", 201)
	rej := c.Check(ctx, KindChat, 1, 2, over)
	if rej == nil || rej.Code != "too_long" {
		t.Errorf("201 runes = %+v, want too_long", rej)
	}

	// Runes, not bytes: 200 multibyte characters must pass.
	multibyte := strings.Repeat("ñ", 200)
	if rej := c.Check(ctx, KindChat, 1, 3, multibyte); rej != nil {
		t.Errorf("200 multibyte runes rejected: %+v", rej)
	}
}

func TestThrottle(t *testing.T) {
	c, mr := newTestChecker(t)
	ctx := context.Background()

	if rej := c.Check(ctx, KindChat, 1, 1, "hola"); rej != nil {
		t.Fatalf("first message rejected: %+v", rej)
	}
	rej := c.Check(ctx, KindChat, 1, 1, "otra cosa")
	if rej == nil || rej.Code != "throttled" {
		t.Fatalf("second rapid message = %+v, want throttled", rej)
	}

	// Other users and other kinds are unaffected.
	if rej := c.Check(ctx, KindChat, 1, 2, "hola"); rej != nil {
		t.Errorf("other user throttled: %+v", rej)
	}
	if rej := c.Check(ctx, KindQA, 1, 1, "una pregunta"); rej != nil {
		t.Errorf("other kind throttled: %+v", rej)
	}

	mr.FastForward(4 * time.Second)
	if rej := c.Check(ctx, KindChat, 1, 1, "ya paso"); rej != nil {
		t.Errorf("message after throttle window rejected: %+v", rej)
	}
}

func TestDuplicateStorm(t *testing.T) {
	c, _ := newTestChecker(t)
	c.dupThreshold = 4
	ctx := context.Background()

	// Distinct users send normalization-equal variants of one message.
	// The first dupThreshold occurrences pass; rejection starts after.
	variants := []string{
		"Hola Mundo", "hola mundo", "HOLA  MUNDO", "holá mundo", " hola mundo ",
	}
	for i, msg := range variants[:4] {
		if rej := c.Check(ctx, KindChat, 1, int64(100+i), msg); rej != nil {
			t.Fatalf("occurrence %d rejected: %+v, want within threshold", i+1, rej)
		}
	}
	rej := c.Check(ctx, KindChat, 1, 104, variants[4])
	if rej == nil || rej.Code != "duplicate_storm" {
		t.Fatalf("occurrence 5 = %+v, want duplicate_storm", rej)
	}

	// A genuinely different message still passes.
	if rej := c.Check(ctx, KindChat, 1, 200, "algo distinto"); rej != nil {
		t.Errorf("distinct message rejected: %+v", rej)
	}
}

func TestStormWindowSlidesOnEveryHit(t *testing.T) {
	c, mr := newTestChecker(t)
	c.dupThreshold = 2
	ctx := context.Background()

	// Hits spaced wider than the window measured from the first send,
	// but each hit re-arms the 20 s expiry, so the counter survives.
	if rej := c.Check(ctx, KindChat, 1, 1, "oferta imperdible"); rej != nil {
		t.Fatalf("first occurrence rejected: %+v", rej)
	}
	mr.FastForward(15 * time.Second)
	if rej := c.Check(ctx, KindChat, 1, 2, "oferta imperdible"); rej != nil {
		t.Fatalf("second occurrence rejected: %+v", rej)
	}
	mr.FastForward(15 * time.Second)
	rej := c.Check(ctx, KindChat, 1, 3, "oferta imperdible")
	if rej == nil || rej.Code != "duplicate_storm" {
		t.Errorf("third occurrence = %+v, want duplicate_storm from a slid window", rej)
	}

	// Past the window with no hits, the storm resets.
	mr.FastForward(25 * time.Second)
	if rej := c.Check(ctx, KindChat, 1, 4, "oferta imperdible"); rej != nil {
		t.Errorf("occurrence after expired window rejected: %+v", rej)
	}
}

func TestFingerprintNormalization(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"Hola Mundo", "hola mundo", true},
		{"holá  mundo", "hola mundo", true},
		{"  hola\tmundo  ", "hola mundo", true},
		{"hola mundo", "hola mundos", false},
	}
	for _, tt := range tests {
		got := Fingerprint(tt.a) == Fingerprint(tt.b)
		if got != tt.same {
			t.Errorf("Fingerprint(%q) == Fingerprint(%q) = %v, want %v", tt.a, tt.b, got, tt.same)
		}
	}
}

func TestDegradesToLengthOnlyWhenStoreDown(t *testing.T) {
	c, mr := newTestChecker(t)
	ctx := context.Background()
	mr.Close()

	// Throttle and duplicate checks are skipped; length still enforced.
	if rej := c.Check(ctx, KindChat, 1, 1, "hola"); rej != nil {
		t.Errorf("message rejected with store down: %+v", rej)
	}
	if rej := c.Check(ctx, KindChat, 1, 1, "hola"); rej != nil {
		t.Errorf("rapid repeat rejected with store down: %+v", rej)
	}
	long := strings.Repeat("x", 201)
	if rej := c.Check(ctx, KindChat, 1, 1, long); rej == nil || rej.Code != "too_long" {
		t.Errorf("length check skipped with store down: %+v", rej)
	}
}

func TestStormAcrossManyUsers(t *testing.T) {
	c, _ := newTestChecker(t)
	c.dupThreshold = 50
	ctx := context.Background()

	var rejections int
	for i := 0; i < 60; i++ {
		msg := "compra ya en example dot com"
		if rej := c.Check(ctx, KindChat, 1, int64(1000+i), msg); rej != nil {
			rejections++
		}
	}
	if rejections != 10 {
		t.Errorf("rejections = %d, want 10 (sends 51..60 blocked)", rejections)
	}
}
