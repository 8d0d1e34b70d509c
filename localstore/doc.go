// Package localstore implements the client-side local store of a
// distributed document-database SDK: the subsystem that mediates between
// user code, pending mutations, server-delivered snapshots, and durable
// on-device persistence.
//
// It owns four concerns: the remote document cache (last-known server
// state per document), the mutation queue (locally applied writes awaiting
// server acknowledgement), the target registry (server-side listen queries
// mapped to local ids and resume tokens), and a bundle loader that ingests
// precomputed query results shipped out-of-band.
//
// Every operation on [LocalStore] runs inside exactly one persistence
// transaction. The durable engine, wire codec, LRU garbage collector, and
// query planner are external collaborators reached only through the
// interfaces declared in this package; see package enginesql and
// package enginemem for concrete implementations.
package localstore
