// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

package envelope

// Broadcaster is the fan-out contract the services emit through. The
// concrete implementation is internal/hub; tests substitute a recording
// double.
//
// roles nil means every role. eventID zero means no event filter; a
// non-zero eventID restricts delivery to sockets bound to that event and,
// when cross-instance pub/sub is enabled, publishes the envelope on the
// event's channel first.
type Broadcaster interface {
	Broadcast(payload any, roles []Role, eventID int64)
}
