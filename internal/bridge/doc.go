// Package bridge connects the Matrix sync stream to the bookmark service.
//
// Three triggers feed the same lifecycle: the bookmark command sent as a
// reply, the bookmark emoji reacted onto a community message, and the delete
// emoji reacted onto a delivered copy. Each trigger normalizes its Matrix
// event into a service call and handles the service's error taxonomy; none
// of them hold bookmark state of their own, so concurrent triggers for the
// same message converge on the store's uniqueness guarantee.
package bridge
