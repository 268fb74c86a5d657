// Package messenger adapts the Matrix client to the bookmark service's
// delivery and identity contracts.
//
// Delivered copies go to per-user direct rooms, created lazily and cached.
// Each copy is a normal text message (markdown fallback plus rendered HTML)
// carrying the delete control identifier in the io.satchel.control content
// field, which the delete trigger reads back when the owner reacts.
//
// Matrix error codes map onto the service taxonomy: M_FORBIDDEN on send
// means the owner is unreachable, M_NOT_FOUND on redact or profile lookup
// means the artifact or user is gone.
package messenger
