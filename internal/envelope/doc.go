// Livehall - Multi-Tenant Live Event Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livehall

// Package envelope holds the shared wire contracts of the realtime core:
// the role enum, the inbound frame schema with its strict parser, the
// outbound envelope types, and the Broadcaster interface.
//
// This package is a leaf on purpose. The socket gateway, the services
// (chat, questions, polls, snapshot) and the broadcast hub all depend on
// these types; keeping them here breaks the handler/service import cycle
// the rest of the tree would otherwise have.
package envelope
