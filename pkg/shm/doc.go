// Package shm lets unrelated processes on one host share named blocks of bytes
// inside fixed-size shared memory pages, without a coordinating server.
//
// A Space is opened over a channel. Its pages are the regions channel_0,
// channel_1, ... and each page starts with a small header followed by a linked
// list of allocation tables that map block ids to byte offsets. Allocation
// decisions are serialized across processes by a spinlock embedded in page 0,
// so every participant that asks for the same id gets the same (page, offset).
//
// Example usage:
//
//	s, err := shm.Open(ctx, channel.FromHash("my-app"), shm.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	b, err := s.AllocateNamed(ctx, "counters", 64)
//	// ...
//	b.StoreUint32(0, 1)
//
// Blocks are never freed and nothing is erased when a Space is closed; the
// regions persist until Remove is called.
package shm
