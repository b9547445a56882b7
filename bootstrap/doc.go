// Package bootstrap wires the warden components together: logger,
// configuration, stores, policy engine, provenance, forwarder, and the
// HTTP API. It owns startup order and graceful shutdown.
package bootstrap
