package raytrace

import (
	"fmt"

	"github.com/AGOOT/blender/gpucore"
)

// SubStep is an optional dispatch folded into a stage, gated by a predicate
// evaluated at submission time. The planar-probe trace injected into the
// reflection stage is the canonical example.
type SubStep struct {
	Label   string
	Kind    ShaderKind
	Closure ClosureKind

	// When gates the step. A nil predicate means always.
	When func() bool

	// Bind resolves the bind group entries at submit time, so the step can
	// reference pooled or swapped resources.
	Bind func() []gpucore.BindGroupEntry

	// Groups supplies a host-computed dispatch size. Ignored when Indirect
	// is set.
	Groups func() gpucore.DispatchArgs

	// Indirect, when non-nil, sources the dispatch size from a device
	// buffer at IndirectOffset.
	Indirect       *Buffer
	IndirectOffset uint64
}

// Pass is one pipeline stage: a kernel dispatch, optional sub-steps, and the
// barrier covering the hazards the next stage depends on.
type Pass struct {
	Label   string
	Kind    ShaderKind
	Closure ClosureKind

	Bind   func() []gpucore.BindGroupEntry
	Groups func() gpucore.DispatchArgs

	Indirect       *Buffer
	IndirectOffset uint64

	// Barrier is announced after the main dispatch and all sub-steps.
	Barrier gpucore.BarrierFlags

	Steps []SubStep
}

// passManager encodes passes onto the backend and tracks the transient bind
// groups it creates, releasing them when the frame is reclaimed.
type passManager struct {
	dev     gpucore.Backend
	shaders *ShaderSet
	groups  []gpucore.BindGroupID
}

func newPassManager(dev gpucore.Backend, shaders *ShaderSet) *passManager {
	return &passManager{dev: dev, shaders: shaders}
}

// submit encodes the pass onto enc: main dispatch, gated sub-steps, barrier.
func (m *passManager) submit(enc gpucore.ComputePassEncoder, p *Pass) error {
	if err := m.encodeOne(enc, p.Kind, p.Closure, p.Label, p.Bind, p.Groups, p.Indirect, p.IndirectOffset); err != nil {
		return err
	}
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.When != nil && !step.When() {
			continue
		}
		if err := m.encodeOne(enc, step.Kind, step.Closure, step.Label, step.Bind, step.Groups, step.Indirect, step.IndirectOffset); err != nil {
			return err
		}
	}
	if p.Barrier != 0 {
		enc.Barrier(p.Barrier)
	}
	slogger().Debug("pass submitted", "label", p.Label, "indirect", p.Indirect != nil)
	return nil
}

func (m *passManager) encodeOne(
	enc gpucore.ComputePassEncoder,
	kind ShaderKind,
	closure ClosureKind,
	label string,
	bind func() []gpucore.BindGroupEntry,
	groups func() gpucore.DispatchArgs,
	indirect *Buffer,
	indirectOffset uint64,
) error {
	pipeline, err := m.shaders.Pipeline(kind, closure)
	if err != nil {
		return err
	}

	group, err := m.dev.CreateBindGroup(m.shaders.Layout(kind), bind())
	if err != nil {
		return fmt.Errorf("raytrace: bind %s: %w", label, err)
	}
	m.groups = append(m.groups, group)

	enc.SetPipeline(pipeline)
	enc.SetBindGroup(0, group)
	if indirect != nil {
		enc.DispatchIndirect(indirect.ID(), indirectOffset)
	} else {
		args := groups()
		enc.Dispatch(args.X, args.Y, args.Z)
	}
	return nil
}

// reclaim destroys the bind groups created since the last reclaim. Call only
// after the frame's command buffer has been submitted.
func (m *passManager) reclaim() {
	for _, g := range m.groups {
		m.dev.DestroyBindGroup(g)
	}
	m.groups = m.groups[:0]
}
