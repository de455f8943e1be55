// Package feed republishes the trade stream to downstream consumers.
//
// A Hub relays sequenced batches to every registered Consumer through a small
// bounded queue; a consumer whose queue is full is disconnected instead of
// slowing the producer. The Server accepts websocket consumers, sends each a
// snapshot of current state and then the live stream, with no gap and no
// duplicate between the two.
//
// Messages are text blocks: the symbol name on its own line, the symbol's
// records in trade log format, then a "==" line.
package feed
