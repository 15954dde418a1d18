// Package allocator implements deterministic sub-allocators over externally
// supplied memory blocks.
//
// None of the allocators own their block. Each one keeps a DeallocateFunc and
// calls it once from Destroy, so the owner of the block decides when it is
// really released. Move transfers the bookkeeping to a new instance and leaves
// the old one empty.
//
//   - StackAllocator: bump allocation with an inline marker after every
//     allocation; Deallocate(marker) rolls back to before that allocation.
//   - DoubleStackAllocator: two marker stacks growing toward each other from
//     both ends of one block, with LowerMarker and UpperMarker kept apart by type.
//   - Pool: fixed-size chunks with an intrusive free list, O(1) allocate and
//     deallocate in any order.
//
// Running out of space returns ErrOutOfMemory. Contract violations such as a
// dead marker or a foreign pointer panic with an assertion failure; the Try*
// variants return ErrValidationFailed instead. ResultOf maps errors onto the
// engine's Result codes.
//
// Allocators are not goroutine-safe. Values placed in allocator memory must not
// contain Go pointers because the garbage collector does not scan it.
package allocator
