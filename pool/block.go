package pool

// Block groups up to Capacity resources under one structural parent. New
// resources fill the newest block before another one is started.
type Block[T comparable] struct {
	index    int
	capacity int
	members  []T

	// Parent is free for the Mount hook to attach the block's container.
	Parent any
}

// Index is the block's position in creation order.
func (b *Block[T]) Index() int { return b.index }

// Capacity is the maximum number of members.
func (b *Block[T]) Capacity() int { return b.capacity }

// Len is the current number of members.
func (b *Block[T]) Len() int { return len(b.members) }

// Free is the number of members that can still be added.
func (b *Block[T]) Free() int { return b.capacity - len(b.members) }

// Members returns a copy of the block's resources in creation order.
func (b *Block[T]) Members() []T {
	out := make([]T, len(b.members))
	copy(out, b.members)
	return out
}
