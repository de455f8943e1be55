// Package writer mirrors persisted trades into PostgreSQL/TimescaleDB.
//
// The trade log stays the source of truth. The mirror is append-only with
// ON CONFLICT DO NOTHING semantics keyed by (symbol, trade_id), so replays
// after a restart are harmless. Failures are logged and counted, never fatal.
package writer
