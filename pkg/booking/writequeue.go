package booking

import "context"

// writeQueue admits one mutation at a time against the underlying store.
type writeQueue struct {
	slot chan struct{}
}

func newWriteQueue() *writeQueue {
	return &writeQueue{slot: make(chan struct{}, 1)}
}

func (queue *writeQueue) run(ctx context.Context, fn func() error) error {
	select {
	case queue.slot <- struct{}{}:
	case <-ctx.Done():
		return WrapError(errorOperationService, errorSubjectBooking, errorCodeQueue, ctx.Err())
	}
	defer func() { <-queue.slot }()
	return fn()
}
