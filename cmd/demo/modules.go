package main

import (
	"github.com/rs/zerolog"

	"github.com/comalice/tickx"
	"github.com/comalice/tickx/internal/log"
	"github.com/comalice/tickx/resource"
)

// Event names sent by the simulated network.
const (
	packetTargetSpotted = "target.spotted"
	packetTargetLost    = "target.lost"
)

// keyInventory opens the inventory and marks it for sorting.
const keyInventory = 'E'

// hotbarCycler walks the hotbar one slot per second at low priority.
func hotbarCycler(res *resource.Set) tickx.Module {
	const id tickx.ModuleID = "hotbar-cycler"
	return tickx.ModuleFuncs{
		Name: id,
		OnEnable: func(e *tickx.Engine) error {
			_, err := tickx.Listen(e, tickx.KindTick, id, 0, func(ev tickx.TickEvent) error {
				res.Slot.Submit(int(ev.Tick/20)%(resource.LastSlot+1), 10, id)
				return nil
			})
			return err
		},
	}
}

// aimAssist turns towards a target while one is reported by the network.
// It holds both the aim and the hotbar slot over the cycler.
func aimAssist(res *resource.Set, logger zerolog.Logger) tickx.Module {
	const id tickx.ModuleID = "aim-assist"
	var target *resource.Rotation

	return tickx.ModuleFuncs{
		Name: id,
		OnEnable: func(e *tickx.Engine) error {
			_, err := tickx.Listen(e, tickx.KindPacketReceived, id, 0, func(ev *tickx.PacketEvent) error {
				switch ev.Name {
				case packetTargetSpotted:
					r, ok := ev.Payload.(resource.Rotation)
					if !ok {
						return tickx.ErrEventTypeMismatch
					}
					target = &r
					logger.Info().Stringer("target", r).Msg("target acquired")
				case packetTargetLost:
					target = nil
					logger.Info().Msg("target lost")
				default:
					return nil
				}
				ev.Cancel()
				return nil
			})
			if err != nil {
				return err
			}

			_, err = e.On(tickx.KindTick, id, 0, func(tickx.Event) error {
				if target == nil {
					return nil
				}
				// Ease towards the target from the applied aim.
				res.Aim.Submit(res.Aim.Current().Lerp(*target, 0.25), 50, id)
				res.Slot.Submit(0, 50, id)
				return nil
			})
			return err
		},
		OnDisable: func(*tickx.Engine) { target = nil },
	}
}

// inventorySorter queues a sort whenever the inventory key is pressed, at
// most once every ten ticks.
func inventorySorter(res *resource.Set, logger zerolog.Logger) tickx.Module {
	const id tickx.ModuleID = "inventory-sorter"
	dirty := false
	sortActions := []resource.InventoryAction{
		{Kind: resource.ActionQuickMove, Slot: 9},
		{Kind: resource.ActionSwap, Slot: 10, Target: 1},
		{Kind: resource.ActionClick, Slot: 11},
	}

	body := tickx.NewSequence().
		Label("idle").
		WaitUntil(func() bool { return dirty }).
		Run(func(f *tickx.Frame) {
			dirty = false
			if res.Inventory.Submit(sortActions, 1, id) {
				logger.Info().Uint64(log.FieldTick, uint64(f.Now())).Int("actions", len(sortActions)).Msg("inventory sort queued")
			}
		}).
		WaitTicks(10).
		Jump("idle").
		MustBuild()

	return tickx.ModuleFuncs{
		Name: id,
		OnEnable: func(e *tickx.Engine) error {
			_, err := tickx.Listen(e, tickx.KindInputKey, id, 0, func(ev *tickx.KeyEvent) error {
				if ev.Key == keyInventory && ev.Pressed && !ev.Cancelled() {
					dirty = true
				}
				return nil
			})
			if err != nil {
				return err
			}
			_, err = e.Spawn(id, body)
			return err
		},
		OnDisable: func(*tickx.Engine) { dirty = false },
	}
}
