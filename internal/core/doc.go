// Package core runs copybook decode jobs.
//
// This package holds everything between a registered schema and a place to
// put decoded records, independent of any transport. It is used by the web
// handlers and the copybook CLI alike.
//
// # Schema Registry
//
// Schemas are loaded from YAML or JSON files at startup with [LoadDir] and
// [LoadFile], or registered from code with [Register]. Each [SchemaEntry]
// carries the shape resolver shared by every job decoding that schema, so
// discriminator results are cached across jobs:
//
//	n, err := core.LoadDir("schemas", core.LoadOptions{Charset: "cp037"})
//	entry, err := core.Lookup("orders")
//
// # Jobs
//
// A job streams one input through a [record.Reader] into a [Sink]:
//
//  1. Client calls [Service.RunJob] or [Service.StartJob] with an io.Reader
//  2. Service acquires a slot from the [JobLimiter]
//  3. Records are decoded one at a time and written to the sink
//  4. Progress is broadcast to subscribers via [Service.SubscribeProgress]
//
// Memory use does not depend on input size. Under [PolicySkip] records that
// fail to decode are counted and skipped when the framing allows the stream
// to continue at the next record.
//
// # Sinks
//
//   - [JSONLinesSink]: one JSON object per record
//   - [PostgresSink]: one row per top-level field, batched with COPY
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - SCH001-SCH002: Schema errors (invalid layout, unknown schema)
//   - EOF001, LEN001-LEN002: Framing errors (truncated input, bad lengths)
//   - FLD001, TYP001, VAL001-VAL004, DEP001: Field errors
//   - JOB001-JOB005: Job errors (busy, cancelled, timeout, too large)
//   - DB001-DB004: Database errors
package core
