// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness reactor behind the serializing
// worker: epoll on Linux with an eventfd for cross-goroutine wake-ups.
//
// A Reactor is driven by exactly one polling goroutine. Callbacks run on that
// goroutine, so they may freely mutate state owned by it. Wake is the only
// method meant for other goroutines.
package reactor

import "math"

// DefaultMaxEvents is the epoll batch size used when none is configured.
const DefaultMaxEvents = 128

// maxPollMillis caps a single wait so the millisecond conversion never overflows.
const maxPollMillis = math.MaxInt32
