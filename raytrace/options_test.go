package raytrace

import "testing"

func TestStageHierarchy(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		stages  DenoiseStages
		want    stageSet
	}{
		{"all off", false, DenoiseAll, stageSet{}},
		{"disabled master switch", false, DenoiseSpatial, stageSet{}},
		{"nothing requested", true, 0, stageSet{}},
		{"spatial only", true, DenoiseSpatial, stageSet{spatial: true}},
		{"temporal without spatial", true, DenoiseTemporal, stageSet{}},
		{"bilateral without temporal", true, DenoiseSpatial | DenoiseBilateral, stageSet{spatial: true}},
		{"spatial and temporal", true, DenoiseSpatial | DenoiseTemporal, stageSet{spatial: true, temporal: true}},
		{"full chain", true, DenoiseAll, stageSet{spatial: true, temporal: true, bilateral: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Options{DenoiseEnabled: tt.enabled, Stages: tt.stages}
			if got := o.stages(); got != tt.want {
				t.Errorf("stages() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolutionScaleCoercion(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{5, 8},
	}
	for _, tt := range tests {
		o := Options{ResolutionScale: tt.in}
		if got := o.resolutionScale(); got != tt.want {
			t.Errorf("resolutionScale(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRoughnessFade(t *testing.T) {
	o := Options{RoughnessThreshold: 0.4, RoughnessFadeWidth: 0.2}
	scale, bias := o.roughnessFade()
	if scale != 5 {
		t.Errorf("scale = %v, want 5", scale)
	}
	if bias != 2 {
		t.Errorf("bias = %v, want 2", bias)
	}

	// A zero width must not divide by zero.
	o = Options{RoughnessThreshold: 0.5, RoughnessFadeWidth: 0}
	scale, bias = o.roughnessFade()
	if scale <= 0 || bias <= 0 {
		t.Errorf("zero width fade = (%v, %v), want positive finite values", scale, bias)
	}
}

func TestRadianceClamp(t *testing.T) {
	if got := (Options{SampleClamp: 10}).radianceClamp(); got != 10 {
		t.Errorf("radianceClamp(10) = %v, want 10", got)
	}
	if got := (Options{SampleClamp: 0}).radianceClamp(); got != 1e20 {
		t.Errorf("radianceClamp(0) = %v, want 1e20", got)
	}
	if got := (Options{SampleClamp: -1}).radianceClamp(); got != 1e20 {
		t.Errorf("radianceClamp(-1) = %v, want 1e20", got)
	}
}

func TestHorizonEnabled(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		active    ClosureMask
		want      bool
	}{
		{"diffuse active", 0.4, MaskDiffuse, true},
		{"reflection active", 0.4, MaskReflection, true},
		{"refraction only", 0.4, MaskRefraction, false},
		{"no closures", 0.4, 0, false},
		{"threshold covers full range", 1.0, MaskDiffuse | MaskReflection, false},
		{"all closures", 0.4, maskAll, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Options{RoughnessThreshold: tt.threshold}
			if got := o.horizonEnabled(tt.active); got != tt.want {
				t.Errorf("horizonEnabled(%v) = %v, want %v", tt.active, got, tt.want)
			}
		})
	}
}

func TestClosureKindMask(t *testing.T) {
	if ClosureDiffuse.Mask() != MaskDiffuse ||
		ClosureReflection.Mask() != MaskReflection ||
		ClosureRefraction.Mask() != MaskRefraction {
		t.Error("closure kind masks do not match their bits")
	}
	if !maskAll.Has(ClosureDiffuse) || !maskAll.Has(ClosureRefraction) {
		t.Error("maskAll should contain every closure")
	}
	if (MaskDiffuse | MaskReflection).Has(ClosureRefraction) {
		t.Error("mask without refraction reports refraction")
	}
}

func TestInvalidClosurePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("checkClosure(99) did not panic")
		}
	}()
	checkClosure(ClosureKind(99))
}
