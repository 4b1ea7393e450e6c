package raytrace

// Method selects how rays are resolved.
type Method uint8

// Tracing methods.
const (
	// MethodNone disables ray marching. Trace stages substitute the probe
	// fallback estimate, but the denoise chain still runs unchanged.
	MethodNone Method = iota

	// MethodScreen marches rays against the screen-space depth buffer.
	MethodScreen
)

// DenoiseStages is a bitmask of requested denoise stages. Requesting a stage
// does not guarantee it runs: a stage only activates when every earlier stage
// is also active (see Options.stages).
type DenoiseStages uint8

// Denoise stage bits.
const (
	DenoiseSpatial DenoiseStages = 1 << iota
	DenoiseTemporal
	DenoiseBilateral

	// DenoiseAll requests the full chain.
	DenoiseAll = DenoiseSpatial | DenoiseTemporal | DenoiseBilateral
)

// Options is the per-frame pipeline configuration snapshot. The zero value
// is not usable; start from DefaultOptions.
type Options struct {
	// Method selects the tracing method.
	Method Method

	// DenoiseEnabled is the master switch for the denoise chain.
	DenoiseEnabled bool

	// Stages requests denoise stages. Stage activation is hierarchical:
	// bilateral needs temporal, temporal needs spatial, spatial needs
	// DenoiseEnabled.
	Stages DenoiseStages

	// ResolutionScale divides the full resolution for ray tracing. It is
	// coerced to a power of two >= 1.
	ResolutionScale int

	// RoughnessThreshold is the surface roughness at which ray tracing
	// starts fading out in favor of the horizon scan.
	RoughnessThreshold float32

	// RoughnessFadeWidth is the width of the linear fade zone above
	// RoughnessThreshold.
	RoughnessFadeWidth float32

	// SampleClamp limits per-sample radiance to reduce fireflies.
	// Zero or negative means effectively unclamped.
	SampleClamp float32

	// TraceQuality scales the screen-trace step count.
	TraceQuality float32

	// TraceThickness is the assumed depth-buffer thickness during marching.
	TraceThickness float32

	// HorizonResolutionScale divides the full resolution for the horizon
	// scan, coerced like ResolutionScale.
	HorizonResolutionScale int

	// HorizonBias widens the horizon-scan cone to hide undersampling.
	HorizonBias float32
}

// DefaultOptions returns the configuration used when the caller supplies
// nothing.
func DefaultOptions() Options {
	return Options{
		Method:                 MethodScreen,
		DenoiseEnabled:         true,
		Stages:                 DenoiseAll,
		ResolutionScale:        1,
		RoughnessThreshold:     0.4,
		RoughnessFadeWidth:     0.2,
		SampleClamp:            10,
		TraceQuality:           0.25,
		TraceThickness:         0.2,
		HorizonResolutionScale: 2,
		HorizonBias:            0.125,
	}
}

// stageSet is the resolved per-frame denoise stage activation.
type stageSet struct {
	spatial   bool
	temporal  bool
	bilateral bool
}

// stages resolves the stage hierarchy. A stage can never be active without
// every stage before it.
func (o Options) stages() stageSet {
	var s stageSet
	s.spatial = o.DenoiseEnabled && o.Stages&DenoiseSpatial != 0
	s.temporal = s.spatial && o.Stages&DenoiseTemporal != 0
	s.bilateral = s.temporal && o.Stages&DenoiseBilateral != 0
	return s
}

// resolutionScale returns the coerced tracing resolution divisor.
func (o Options) resolutionScale() int {
	return NextPowerOfTwo(o.ResolutionScale)
}

// horizonResolutionScale returns the coerced horizon-scan divisor.
func (o Options) horizonResolutionScale() int {
	return NextPowerOfTwo(o.HorizonResolutionScale)
}

// roughnessFade returns the scale and bias applied to surface roughness in
// the classify and trace kernels. Participation is then a smooth function of
// roughness*scale - bias, avoiding a seam at the method switch.
func (o Options) roughnessFade() (scale, bias float32) {
	width := o.RoughnessFadeWidth
	if width <= 0 {
		width = 1e-4
	}
	scale = 1 / width
	bias = scale * o.RoughnessThreshold
	return scale, bias
}

// radianceClamp returns the effective clamp value uploaded to the kernels.
func (o Options) radianceClamp() float32 {
	if o.SampleClamp > 0 {
		return o.SampleClamp
	}
	return 1e20
}

// horizonEnabled reports whether the horizon-scan pipeline runs this frame.
// It is pointless when ray tracing covers the whole roughness range, and the
// refraction closure never participates.
func (o Options) horizonEnabled(active ClosureMask) bool {
	if o.RoughnessThreshold >= 1 {
		return false
	}
	return active&(MaskDiffuse|MaskReflection) != 0
}
