// Package hub broadcasts values to many independent subscriptions.
//
// Delivery is best-effort: every send is non-blocking, so a subscriber whose
// queue is full simply misses that value while everyone else receives it.
// Subscriptions whose consumer has gone away are found by a periodic sweep
// that offers each queue a heartbeat and prunes the ones that refuse it.
// Values sent to one subscription that never drops arrive in publish order.
package hub
