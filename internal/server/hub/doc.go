// Package hub runs the server side of the sync protocol over websockets:
// handshake and per-connection dispatch, plus the state reconciler that
// pushes full snapshots on activation and incremental deltas on every alarm
// mutation.
package hub
