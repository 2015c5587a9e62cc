// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot-reload, metrics and debug introspection for the QoS
// request engine and its daemon.
//
// Provides:
//   - viper-backed configuration with snapshot reads and reload listeners
//   - an fsnotify watcher dispatching reload hooks
//   - Prometheus collectors for requests, failures and releases
//   - zap logger construction
//   - named debug probes served as JSON
package control
