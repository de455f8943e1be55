// Package connection implements the live trade feed client.
//
// The feed:
//   - Dials one WebSocket connection to the exchange (v2 API)
//   - Subscribes the trade channel for every configured pair, without snapshot
//   - Reports Subscribed once every pair has been confirmed
//   - Decodes trade pushes into records keyed by internal symbol name
//   - Treats a lost connection, a rejected subscription, or an unknown pair as fatal
package connection
