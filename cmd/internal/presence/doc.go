// Package presence tracks ephemeral per-identity status, visibility and room membership,
// and resolves what one identity is allowed to observe about another.
//
// Two Tracker backends exist: MemoryTracker for a single process and RedisTracker for
// several processes sharing one view. Callers depend only on the Tracker interface.
package presence
