// Package dedupe provides a TTL-bounded seen-event cache so trigger
// handlers process each sync event at most once.
package dedupe
