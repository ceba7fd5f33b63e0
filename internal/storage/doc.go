// Package storage provides the storage engine behind the PS and ITS
// services.
//
// An Engine keeps the published assets of one service in a sharded memory
// store and writes every mutation to a Backend before publishing it:
//
//   - LogBackend: segmented WAL plus periodic snapshots (default)
//   - BadgerBackend: one record per asset in Badger v3
//   - MemoryBackend: volatile, for tests and ephemeral deployments
//
// All backends persist records produced by RecordCodec, which binds the
// sealed content to the asset metadata. Records that fail authentication
// during recovery come back as Corrupt entries instead of aborting startup.
package storage
