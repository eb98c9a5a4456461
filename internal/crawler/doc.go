// Package crawler implements the resumable stream engine: the types shared by
// every subsystem, the per-stream Driver that fetches, decodes, persists, and
// checkpoints listing pages, and last-page discovery.
package crawler
