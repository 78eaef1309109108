// Package driver defines the standardized contract every storage backend
// implements. It provides a single Driver interface that allows consistent
// interaction with various backends while abstracting implementation
// details.
//
// The package focuses on:
//   - A unified interface for key-value operations over arbitrary backends
//   - Capability discovery through feature flags
//   - Graceful degradation when a backend lacks an optional operation
//   - Standardized metadata and error reporting
//
// Key Components:
//
//   - Driver Interface: The core interface that all backend implementations
//     must satisfy. Has, Get and ListKeys are required; everything else
//     (raw channel, mutation, metadata, batching, watching, disposal) is
//     optional and gated by capability flags.
//
//   - Feature Flags: The Feature type defines capability flags that
//     implementations advertise through the SupportsFeature method. The
//     storage engine probes these flags before every optional call and
//     falls back (raw decode through the text channel, parallel singletons
//     instead of a batch, silent no-ops for mutators) when a flag is
//     unset. Implementations leave unsupported methods as stubs; they are
//     never called.
//
//   - Relative Keys: A driver only ever sees keys relative to the mount it
//     serves; the owning mount's base is stripped by the engine before
//     dispatch and prepended to enumeration results and watch events on
//     the way back.
//
//   - Metadata: The Meta structure carries the open metadata record of a
//     key (access/modification instants, advisory ttl, size) plus an Extra
//     map for backend-specific fields.
//
//   - Error System: A structured error reporting mechanism using typed
//     return codes (RetCode) and descriptive messages. Absence of a key is
//     never an error; it is reported through false "found" returns.
//
// Two behavioral flags deserve special mention:
//
//   - MaxDepth: a driver declaring it receives the "maxDepth" option on
//     ListKeys and returns pre-filtered results the engine trusts;
//     otherwise the engine filters after the fact.
//
//   - NativeTTL: a driver declaring it enforces the "ttl" option itself;
//     the engine never simulates expiry, so for all other drivers ttl is
//     advisory metadata only.
package driver
