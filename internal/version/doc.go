// Package version exposes build metadata (version, commit, build time) set
// via ldflags and a helper to attach a cobra version command.
package version
