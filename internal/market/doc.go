// Package market holds the instrument registry for one run.
//
// The registry is built once from configuration and never changes. It pairs
// each exchange-native symbol name with the pair name used by the push feed,
// and keeps configuration order for subscription and snapshots.
package market
