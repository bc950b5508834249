// Package store provides SQLite-backed persistence for the connector.
//
// Tables:
//   - contract_offers / offer_targets: provider-held offers, indexed by target
//   - agreements / agreement_artifacts: negotiated agreements and the artifacts they cover
//   - resources: offered and requested resources, indexed by origin id
//   - artifacts: payloads plus usage bookkeeping (access count, first access, deletion date)
//   - audit_log: post-duty log entries and confirmed agreements
//   - subscriptions: (target, subscriber) pairs notified on resource updates
//
// # Atomicity
//
// Agreement creation writes the agreement and its artifact links in one
// transaction. The access counter is a single conditional UPDATE, so a
// check-and-increment can never be split by a concurrent request.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Read helpers return empty slices, never nil.
package store
