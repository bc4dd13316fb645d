// Package notifier is the outbound delivery queue.
//
// Batches are delivered by a single worker in the order they were enqueued,
// one send at a time. Sends are spaced by a minimum interval measured from
// the start of one send to the start of the next; in strict mode the same
// interval is also kept between the end of a send and the next start.
//
// A failed send is logged and reported to its enqueuer through the
// completion channel. It is not retried and does not hold up later batches.
package notifier
