// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency provides the serializing worker of the QoS engine:
// a keyed delayed-event scheduler, the event loop that drains it together
// with reactor callbacks on one locked OS thread, and one-shot rendezvous
// primitives used to hand results back to blocked callers.
package concurrency
