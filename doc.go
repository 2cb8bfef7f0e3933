// Package tickx is a tick-synchronized cooperative scheduler for client-side
// automation modules.
//
// An Engine owns a priority-ordered event Bus, a Scheduler of resumable
// sequences and a set of Arbiters. The host calls OnTick once per game tick
// and OnRender once per frame; everything else happens inside those calls:
//
//	eng := tickx.New()
//	slot := tickx.NewArbiter(eng, "slot", 0)
//	eng.On(tickx.KindTick, "hotbar", 0, func(tickx.Event) error {
//		slot.Submit(3, 10, "hotbar")
//		return nil
//	})
//	eng.OnTick() // slot.Current() == 3
//
// Nothing in the package is safe for concurrent use. Use the realtime package
// to drive an Engine from wall-clock tickers and feed it from other goroutines.
package tickx
