package raytrace

import "fmt"

// ClosureKind identifies a shading lobe category. Each kind runs through the
// pipeline independently with its own history state.
type ClosureKind uint8

// Closure kinds.
const (
	ClosureDiffuse ClosureKind = iota
	ClosureReflection
	ClosureRefraction

	closureCount
)

// String returns the lower-case closure name used in pass labels.
func (k ClosureKind) String() string {
	switch k {
	case ClosureDiffuse:
		return "diffuse"
	case ClosureReflection:
		return "reflection"
	case ClosureRefraction:
		return "refraction"
	default:
		return fmt.Sprintf("closure(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the three supported kinds.
func (k ClosureKind) Valid() bool {
	return k < closureCount
}

// Mask returns the single-bit mask for k.
func (k ClosureKind) Mask() ClosureMask {
	return ClosureMask(1) << k
}

// ClosureMask is a bitmask of closure kinds present in a frame.
type ClosureMask uint8

// Closure mask bits.
const (
	MaskDiffuse    = ClosureMask(1) << ClosureDiffuse
	MaskReflection = ClosureMask(1) << ClosureReflection
	MaskRefraction = ClosureMask(1) << ClosureRefraction

	maskAll = MaskDiffuse | MaskReflection | MaskRefraction
)

// Has reports whether kind is set in the mask.
func (m ClosureMask) Has(kind ClosureKind) bool {
	return m&kind.Mask() != 0
}

// checkClosure validates a closure-kind argument. An invalid kind is a
// contract violation by the caller, not a runtime condition, so it panics.
func checkClosure(kind ClosureKind) {
	if !kind.Valid() {
		panic(fmt.Sprintf("raytrace: invalid closure kind %d", uint8(kind)))
	}
}
