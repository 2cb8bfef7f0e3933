// Package realtime hosts a tickx.Engine on wall-clock tickers.
//
// The engine itself is single-threaded and knows nothing about time. This
// package adds the concurrent edge:
//   - Ticks are driven at a fixed rate (default 20 per second)
//   - Render frames are driven at a second rate and receive the fraction of
//     the tick interval elapsed since the last tick
//   - Events from other goroutines are batched and dispatched at the start of
//     the next tick
//   - Every engine call is serialized by one mutex
//
// # Example Usage
//
//	eng := tickx.New()
//	rt := realtime.NewRuntime(eng, realtime.Config{
//		TickRate: 50 * time.Millisecond,
//	})
//	rt.Start(ctx)
//	defer rt.Stop()
//	rt.SendEvent(&tickx.PacketEvent{Name: "chat"})
//
// # Event Ordering Guarantees
//
// Queued events are ordered deterministically using:
//  1. Priority (higher priority dispatched first)
//  2. Sequence number (FIFO for same priority)
//
// All queued events are dispatched before the tick's TickEvent, so tick
// listeners and sequences observe their effects in the same tick.
//
// # Accessing the Engine
//
// Goroutines other than the runtime's own must not call the engine directly.
// Use Runtime.Do, which runs between ticks and frames.
package realtime
