// Package shardengine provides the cross-cutting types shared by every
// component of the per-shard write engine: a UUID wrapper decoupling the
// rest of the module from the concrete UUID library, a structured error
// type with an engine-wide error taxonomy, retry/backoff helpers, and
// logging bootstrap.
//
// The write engine itself lives in internal/engine; this package only
// holds the small set of types every other package needs to import
// without creating a cycle back into internal/engine.
package shardengine
