// Package ringer announces fired alarms.
//
// Firings are queued and delivered to every configured Sink by a small worker
// pool with a shared token-bucket rate limit, exponential retry and
// suppression of repeated event ids within a dedup window. Ring never blocks
// on delivery.
package ringer
