// Package ingest reconciles the live trade feed, the on-disk trade log and
// REST gap-fill into one ordered, de-duplicated stream per symbol.
//
// An Orchestrator runs a single coordinating loop fed by one inbox. The live
// feed listener, the warm-up loader and the gap-fill fetcher run as background
// tasks and report to the loop; file appends and hub broadcasts happen on
// dedicated workers so the loop never blocks on I/O.
//
// Phases advance Connecting, Subscribing, WarmingUp, Live. A lost feed
// connection, an exhausted REST retry budget or a storage failure ends the
// run in Failed; cancelling the context ends it in Stopped.
package ingest
