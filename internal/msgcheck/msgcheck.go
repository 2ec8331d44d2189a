// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package msgcheck validates chat and Q&A submissions: length cap,
// per-user throttle and cross-user duplicate-storm detection. The two
// hot-store checks degrade to length-only when the store is down; a
// slow cache must never block the message path.
package msgcheck

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tomtom215/livehall/internal/logging"
	"github.com/tomtom215/livehall/internal/metrics"
)

// Kind partitions the throttle and duplicate keyspaces.
type Kind string

const (
	KindChat Kind = "chat"
	KindQA   Kind = "qa"
)

// User-visible rejection reasons. Client copy is Spanish.
const (
	ReasonTooLong   = "Mensaje demasiado largo (máximo 200 caracteres)."
	ReasonThrottled = "Estás enviando mensajes demasiado rápido, espera un momento."
	ReasonDuplicate = "Se detectó spam masivo, por favor reformula tu mensaje."
)

// Rejection describes why a message was refused.
type Rejection struct {
	Code   string // too_long, throttled, duplicate_storm
	Reason string
}

// Checker runs the validation pipeline against the caches database.
type Checker struct {
	rdb *redis.Client

	maxLength    int
	throttle     time.Duration
	dupWindow    time.Duration
	dupThreshold int64
}

// New builds a checker. maxLength counts runes, not bytes.
func New(rdb *redis.Client, maxLength int, throttle, dupWindow time.Duration, dupThreshold int64) *Checker {
	return &Checker{
		rdb:          rdb,
		maxLength:    maxLength,
		throttle:     throttle,
		dupWindow:    dupWindow,
		dupThreshold: dupThreshold,
	}
}

// dupScript bumps the fingerprint counter and re-arms its expiry in one
// round trip. The window restarts on every hit, so a sustained storm
// keeps its counter alive instead of resetting every 20 seconds.
var dupScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[1])
return n
`)

// Check validates one submission. Order matters: length is free and
// runs first, the throttle claims its slot before the duplicate check
// so a throttled user does not feed the storm counter.
func (c *Checker) Check(ctx context.Context, kind Kind, eventID, userID int64, message string) *Rejection {
	if len([]rune(message)) > c.maxLength {
		metrics.ValidationRejections.WithLabelValues(string(kind), "too_long").Inc()
		return &Rejection{Code: "too_long", Reason: ReasonTooLong}
	}
	if c.rdb == nil {
		return nil
	}

	throttleKey := fmt.Sprintf("throttle:%s:%d:%d", kind, eventID, userID)
	ok, err := c.rdb.SetNX(ctx, throttleKey, "1", c.throttle).Result()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		logging.Err(err).Msg("throttle check unavailable, accepting on length only")
		return nil
	}
	if !ok {
		metrics.ValidationRejections.WithLabelValues(string(kind), "throttled").Inc()
		return &Rejection{Code: "throttled", Reason: ReasonThrottled}
	}

	fp := Fingerprint(message)
	dupKey := fmt.Sprintf("duplicate:%s:%d:%s", kind, eventID, fp)
	n, err := dupScript.Run(ctx, c.rdb, []string{dupKey}, int(c.dupWindow.Seconds())).Int64()
	if err != nil {
		metrics.HotStoreErrors.Inc()
		logging.Err(err).Msg("duplicate check unavailable, accepting on length only")
		return nil
	}
	// Strictly over: the threshold-th occurrence still goes through,
	// rejection starts with the next one.
	if n > c.dupThreshold {
		metrics.ValidationRejections.WithLabelValues(string(kind), "duplicate_storm").Inc()
		return &Rejection{Code: "duplicate_storm", Reason: ReasonDuplicate}
	}
	return nil
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fingerprint normalizes a message so trivial variants collide: lower
// case, accents stripped, runs of whitespace collapsed, then hashed.
func Fingerprint(message string) string {
	s := strings.ToLower(strings.TrimSpace(message))
	if stripped, _, err := transform.String(stripMarks, s); err == nil {
		s = stripped
	}
	s = strings.Join(strings.Fields(s), " ")

	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
