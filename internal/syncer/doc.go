// Package syncer keeps a machine's download directory in step with the
// remote order list.
//
// Each cycle fetches the list once, publishes OK or ERROR through a
// status.Reporter, mirrors the raw list if configured, and then walks the
// orders one at a time: orders for other machines or without a file are
// skipped, files the ledger already knows are left alone, and the rest are
// downloaded. A failed download only affects its own order and is retried
// on the next cycle because nothing was recorded for it.
//
// Run repeats cycles on a fixed interval. Trigger wakes it early; at most
// one trigger is queued.
package syncer
