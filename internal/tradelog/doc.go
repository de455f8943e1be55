// Package tradelog implements the per-instrument append-only trade log.
//
// Each instrument has one text file of newline-terminated records:
//
//	timestamp,price,buy,sell,market,limit,trade_id
//
// Properties:
//   - Records are appended in strictly increasing trade id order
//   - One writer per file; readers measure the size up front and never read past it
//   - Tail lookups bisect by timestamp with a one-day margin, so mildly
//     out-of-order timestamps near the boundary are still found
package tradelog
