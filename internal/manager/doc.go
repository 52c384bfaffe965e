// Package manager is the façade over the state core: discovery, one-shot and
// continuous planning, status/health reporting, and graceful shutdown. CLI
// commands construct exactly one Manager per process.
package manager
