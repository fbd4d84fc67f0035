// Package moderation provides the policy collaborators consulted at the edge between
// the event stream and live connections: the content filter, per-identity block
// lists, global bans and the rate limiters.
package moderation
