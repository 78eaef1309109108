// Package storage implements the mount-multiplexed storage engine: a
// single facade over any number of driver.Driver backends attached at
// Unix-style mount points.
//
// The package focuses on:
//   - Longest-prefix routing of every operation to the owning mount
//   - Value (de)serialization with a tolerant parser and a raw byte channel
//   - Cross-mount enumeration with depth filtering and deduplication
//   - Batched reads and writes grouped per backend
//   - Fan-in of change notifications from all mounted backends
//   - Subtree snapshot and restore
//
// Key Components:
//
//   - Storage Interface: The facade callers interact with. Keys are
//     colon-separated paths, normalized on entry; a trailing colon denotes
//     a subtree base. Exactly one root mount ("") exists at all times;
//     additional mounts partition the namespace by longest-prefix match.
//
//   - Mount Table: An ordered list of (base, driver) pairs kept sorted by
//     descending base length, so a linear scan finds the owning mount on
//     the first prefix hit. Mounts may be added and removed at any time,
//     including while watching is active.
//
//   - Watch Fan-In: A single subscriber surface over all mounted drivers.
//     The first subscriber starts one driver-level watch per mount; events
//     arrive with mount-relative keys and are re-prefixed before dispatch.
//     The last unsubscriber tears everything down again.
//
//   - Prefixed View: WithPrefix returns a namespaced facade over the same
//     engine, rewriting keys in both directions. The view shares the mount
//     table and the watch surface of the underlying engine.
//
// Failure semantics follow a simple rule: single-key operations surface
// backend failures, while fan-out operations (ListKeys, Clear) swallow
// per-mount failures so one broken backend cannot poison the aggregate
// view. Write operations against a backend lacking the capability return
// silently; absence of a key is reported as nil, never as an error.
package storage
