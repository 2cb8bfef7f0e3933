package tickx

import (
	"fmt"
)

// SequenceBuilder provides a fluent API for composing a sequence from stages
// using string labels instead of manual stage numbers.
type SequenceBuilder struct {
	stages  []SequenceFunc
	labels  map[string]int
	targets []labelRef // jump stages, resolved in Build
	dups    []string
}

type labelRef struct {
	stage int
	label string
	cond  func() bool
}

// NewSequence creates an empty sequence builder.
func NewSequence() *SequenceBuilder {
	return &SequenceBuilder{labels: make(map[string]int)}
}

// Do appends a stage running fn. fn may itself suspend.
func (b *SequenceBuilder) Do(fn func(f *Frame) error) *SequenceBuilder {
	b.stages = append(b.stages, fn)
	return b
}

// Run appends a stage running fn, which cannot fail.
func (b *SequenceBuilder) Run(fn func(f *Frame)) *SequenceBuilder {
	return b.Do(func(f *Frame) error {
		fn(f)
		return nil
	})
}

// WaitTicks appends a stage suspending for n ticks.
func (b *SequenceBuilder) WaitTicks(n int) *SequenceBuilder {
	return b.Do(func(f *Frame) error {
		f.WaitTicks(n)
		return nil
	})
}

// WaitUntil appends a stage suspending until pred holds.
func (b *SequenceBuilder) WaitUntil(pred func() bool) *SequenceBuilder {
	return b.Do(func(f *Frame) error {
		f.WaitUntil(pred)
		return nil
	})
}

// Label names the position of the next stage. Each name may be used once.
func (b *SequenceBuilder) Label(name string) *SequenceBuilder {
	if _, dup := b.labels[name]; dup {
		b.dups = append(b.dups, name)
		return b
	}
	b.labels[name] = len(b.stages)
	return b
}

// Jump appends a stage continuing at label.
func (b *SequenceBuilder) Jump(label string) *SequenceBuilder {
	return b.JumpIf(label, nil)
}

// JumpIf appends a stage continuing at label when cond holds (nil means
// always) and at the next stage otherwise.
func (b *SequenceBuilder) JumpIf(label string, cond func() bool) *SequenceBuilder {
	b.targets = append(b.targets, labelRef{stage: len(b.stages), label: label, cond: cond})
	b.stages = append(b.stages, nil)
	return b
}

func jumpStage(target int, cond func() bool) SequenceFunc {
	return func(f *Frame) error {
		if cond != nil && !cond() {
			return nil
		}
		f.Goto(target)
		return nil
	}
}

// Repeat appends a stage jumping back to the first stage. A loop with no
// suspension is cancelled by the stage budget.
func (b *SequenceBuilder) Repeat() *SequenceBuilder {
	return b.Do(func(f *Frame) error {
		f.Goto(0)
		return nil
	})
}

// Build validates the labels and returns the sequence body. Jump targets are
// fixed at this point; later calls on the builder do not affect it.
func (b *SequenceBuilder) Build() (SequenceFunc, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	stages := append([]SequenceFunc(nil), b.stages...)
	for _, ref := range b.targets {
		stages[ref.stage] = jumpStage(b.labels[ref.label], ref.cond)
	}
	return Steps(stages...), nil
}

// MustBuild is Build for statically known sequences.
func (b *SequenceBuilder) MustBuild() SequenceFunc {
	fn, err := b.Build()
	if err != nil {
		panic(err)
	}
	return fn
}

// validate checks that labels are unique and every jump target exists.
func (b *SequenceBuilder) validate() error {
	if len(b.stages) == 0 {
		return fmt.Errorf("sequence has no stages")
	}
	if len(b.dups) > 0 {
		return fmt.Errorf("label %q defined more than once", b.dups[0])
	}
	for _, ref := range b.targets {
		if _, ok := b.labels[ref.label]; !ok {
			return fmt.Errorf("stage %d jumps to unknown label %q", ref.stage, ref.label)
		}
	}
	return nil
}
