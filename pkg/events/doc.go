// Package events implements the in-process publish/subscribe bus that
// fans out messaging-layer and subsystem notifications (peer changes,
// transition confirmations, fence results) to whichever components have
// subscribed, without requiring every producer to know its consumers.
package events
