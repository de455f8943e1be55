// Package model defines shared data types used across the trade pipeline.
//
// Conventions:
//   - Quantities: shopspring decimals, rendered in canonical shortest form
//     (no exponent, no trailing zeros, "0" for zero)
//   - Timestamps: time.Time, UTC at rest
//   - Trade IDs: int64, strictly increasing per instrument
//   - Symbols: exchange-native names (e.g. "XBTUSD"), immutable for a run
package model
