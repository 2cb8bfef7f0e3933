// Package resource provides the shared single-owner resources modules compete
// for: aim direction, the active hotbar slot and the inventory action queue.
// Each one is a tickx.Arbiter with domain validation.
package resource

import (
	"fmt"
	"math"

	"github.com/comalice/tickx"
)

// Arbiter names used in logs, metrics and snapshots.
const (
	AimName       = "aim"
	SlotName      = "slot"
	InventoryName = "inventory"
)

// Hotbar bounds.
const (
	FirstSlot = 0
	LastSlot  = 8
)

// HostOwner owns the listener keeping the aim baseline in sync with the host.
const HostOwner tickx.ModuleID = "resource.host"

// Rotation is a view direction in degrees.
type Rotation struct {
	Yaw   float32 `json:"yaw" yaml:"yaw"`
	Pitch float32 `json:"pitch" yaml:"pitch"`
}

// Valid reports whether both angles are finite and the pitch is in [-90, 90].
func (r Rotation) Valid() bool {
	y, p := float64(r.Yaw), float64(r.Pitch)
	if math.IsNaN(y) || math.IsInf(y, 0) || math.IsNaN(p) || math.IsInf(p, 0) {
		return false
	}
	return p >= -90 && p <= 90
}

// Normalize wraps the yaw into [-180, 180).
func (r Rotation) Normalize() Rotation {
	y := math.Mod(float64(r.Yaw)+180, 360)
	if y < 0 {
		y += 360
	}
	return Rotation{Yaw: float32(y - 180), Pitch: r.Pitch}
}

// Lerp interpolates from r towards to by t in [0, 1] along the shortest yaw arc.
func (r Rotation) Lerp(to Rotation, t float64) Rotation {
	t = min(max(t, 0), 1)
	dy := Rotation{Yaw: to.Yaw - r.Yaw}.Normalize().Yaw
	return Rotation{
		Yaw:   r.Yaw + float32(float64(dy)*t),
		Pitch: r.Pitch + float32(float64(to.Pitch-r.Pitch)*t),
	}.Normalize()
}

func (r Rotation) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", r.Yaw, r.Pitch)
}

// ActionKind is one inventory operation.
type ActionKind int

const (
	ActionClick ActionKind = iota
	ActionSwap
	ActionQuickMove
	ActionDrop
)

func (k ActionKind) String() string {
	switch k {
	case ActionClick:
		return "click"
	case ActionSwap:
		return "swap"
	case ActionQuickMove:
		return "quick_move"
	case ActionDrop:
		return "drop"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// MarshalText renders the kind name.
func (k ActionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// InventoryAction is one queued inventory operation. Target is only used by
// ActionSwap.
type InventoryAction struct {
	Kind   ActionKind `json:"kind" yaml:"kind"`
	Slot   int        `json:"slot" yaml:"slot"`
	Target int        `json:"target,omitempty" yaml:"target,omitempty"`
}

func (a InventoryAction) valid() bool {
	if a.Kind < ActionClick || a.Kind > ActionDrop || a.Slot < 0 {
		return false
	}
	return a.Kind != ActionSwap || a.Target >= 0
}

// ValidSlot reports whether s is a hotbar slot.
func ValidSlot(s int) bool { return s >= FirstSlot && s <= LastSlot }

// NewAim creates the aim arbiter. Submissions with invalid angles are
// rejected.
func NewAim(eng *tickx.Engine, baseline Rotation, opts ...tickx.ArbiterOption[Rotation]) *tickx.Arbiter[Rotation] {
	opts = append([]tickx.ArbiterOption[Rotation]{tickx.WithValidator(Rotation.Valid)}, opts...)
	return tickx.NewArbiter(eng, AimName, baseline.Normalize(), opts...)
}

// NewSlot creates the hotbar slot arbiter. Out-of-range slots are rejected.
func NewSlot(eng *tickx.Engine, baseline int, opts ...tickx.ArbiterOption[int]) (*tickx.Arbiter[int], error) {
	if !ValidSlot(baseline) {
		return nil, fmt.Errorf("slot baseline %d outside [%d, %d]", baseline, FirstSlot, LastSlot)
	}
	opts = append([]tickx.ArbiterOption[int]{tickx.WithValidator(ValidSlot)}, opts...)
	return tickx.NewArbiter(eng, SlotName, baseline, opts...), nil
}

// NewInventoryQueue creates the inventory arbiter. The winner's whole action
// list becomes the tick's queue; without a winner the queue is empty.
func NewInventoryQueue(eng *tickx.Engine, opts ...tickx.ArbiterOption[[]InventoryAction]) *tickx.Arbiter[[]InventoryAction] {
	valid := func(actions []InventoryAction) bool {
		for _, a := range actions {
			if !a.valid() {
				return false
			}
		}
		return true
	}
	opts = append([]tickx.ArbiterOption[[]InventoryAction]{tickx.WithValidator(valid)}, opts...)
	return tickx.NewArbiter[[]InventoryAction](eng, InventoryName, nil, opts...)
}

// FollowHost keeps the aim baseline equal to the host's real view. read is
// called at the start of every tick, before any module runs.
func FollowHost(eng *tickx.Engine, aim *tickx.Arbiter[Rotation], read func() Rotation) (tickx.ListenerHandle, error) {
	return eng.On(tickx.KindTick, HostOwner, math.MaxInt32, func(tickx.Event) error {
		r := read()
		if !r.Valid() {
			return fmt.Errorf("host rotation %v invalid", r)
		}
		aim.SetBaseline(r.Normalize())
		return nil
	})
}

// Set bundles the three resources of one engine.
type Set struct {
	Aim       *tickx.Arbiter[Rotation]
	Slot      *tickx.Arbiter[int]
	Inventory *tickx.Arbiter[[]InventoryAction]
}

// Options configures NewSet.
type Options struct {
	AimBaseline  Rotation
	SlotBaseline int
	// StarvationThreshold is applied to all three arbiters when positive.
	StarvationThreshold int
}

// NewSet creates all three resources, resolved in the order aim, slot,
// inventory.
func NewSet(eng *tickx.Engine, o Options) (*Set, error) {
	var (
		aimOpts  []tickx.ArbiterOption[Rotation]
		slotOpts []tickx.ArbiterOption[int]
		invOpts  []tickx.ArbiterOption[[]InventoryAction]
	)
	if o.StarvationThreshold > 0 {
		aimOpts = append(aimOpts, tickx.WithStarvationThreshold[Rotation](o.StarvationThreshold))
		slotOpts = append(slotOpts, tickx.WithStarvationThreshold[int](o.StarvationThreshold))
		invOpts = append(invOpts, tickx.WithStarvationThreshold[[]InventoryAction](o.StarvationThreshold))
	}
	if !ValidSlot(o.SlotBaseline) {
		return nil, fmt.Errorf("slot baseline %d outside [%d, %d]", o.SlotBaseline, FirstSlot, LastSlot)
	}
	if !o.AimBaseline.Valid() {
		return nil, fmt.Errorf("aim baseline %v invalid", o.AimBaseline)
	}

	s := &Set{Aim: NewAim(eng, o.AimBaseline, aimOpts...)}
	slot, err := NewSlot(eng, o.SlotBaseline, slotOpts...)
	if err != nil {
		return nil, err
	}
	s.Slot = slot
	s.Inventory = NewInventoryQueue(eng, invOpts...)
	return s, nil
}
