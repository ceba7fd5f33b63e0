// Package service provides the PSA storage services of psastore.
//
// A StorageService implements the Protected Storage (PS) or Internal
// Trusted Storage (ITS) operations for callers identified by partition:
//
//   - Set, Get, GetInfo and Remove are always available.
//   - Create and SetExtended are optional and enabled through Capabilities.
//   - GetSupport reports which optional operations are enabled.
//
// Services hold no state of their own. Entries live in an AssetRepository,
// normally a *storage.Engine, which serializes writers per key and makes
// every accepted mutation durable before it becomes visible.
//
// All methods are safe for concurrent use.
package service
