// Package entity models Home Assistant entity state as seen by the renderer.
//
// A State holds a typed Value (number, string, bool or unavailable) and the
// time it last changed. A Snapshot is an immutable set of states observed at
// one instant. Source is the contract the render pipeline consumes from the
// outside world: point-in-time snapshots plus change notifications.
package entity
