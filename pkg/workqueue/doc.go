// Package workqueue holds background work items waiting for a worker.
//
// Invariants:
// - Every High item is dequeued before any Low item.
// - Within a priority class items leave in enqueue order.
// - A requeued item goes to the front of its class.
// - Enqueue never blocks and never fails while the queue is open.
//
// Usage:
//
//	q := workqueue.New()
//	q.Enqueue(workqueue.Item{SessionID: id, Payload: "summarize", Priority: workqueue.High})
//	item, err := q.Dequeue(ctx)
package workqueue
