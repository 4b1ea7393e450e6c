package raytrace

import (
	"errors"
	"testing"

	"github.com/AGOOT/blender/backend"
	"github.com/AGOOT/blender/gpucore"
)

func newTestModule(t *testing.T) (*Module, *backend.NullDevice) {
	t.Helper()
	dev := backend.NewNullDevice()
	m, err := New(dev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)
	return m, dev
}

func makeInputs(t *testing.T, dev *backend.NullDevice, extent Extent) FrameInputs {
	t.Helper()
	create := func(label string, format gpucore.TextureFormat) gpucore.TextureID {
		id, err := dev.CreateTexture(gpucore.TextureDesc{
			Label:  label,
			Width:  extent.Width,
			Height: extent.Height,
			Format: format,
			Usage:  gpucore.TextureUsageSampled,
		})
		if err != nil {
			t.Fatalf("CreateTexture %s: %v", label, err)
		}
		return id
	}
	return FrameInputs{
		Extent:          extent,
		ViewProj:        Mat4Identity(),
		Depth:           create("depth", gpucore.TextureFormatR32Float),
		RadianceFront:   create("radiance_front", gpucore.TextureFormatRGBA16Float),
		RadianceBack:    create("radiance_back", gpucore.TextureFormatRGBA16Float),
		NormalRoughness: create("normal_roughness", gpucore.TextureFormatRGBA16Float),
	}
}

func labelsOf(dev *backend.NullDevice) []string {
	recs := dev.Dispatches()
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Pipeline
	}
	return out
}

// noHorizonOptions returns the default configuration with the horizon scan
// heuristically disabled, keeping dispatch sequences minimal.
func noHorizonOptions() Options {
	o := DefaultOptions()
	o.RoughnessThreshold = 1
	return o
}

func TestTraceRequiresFrame(t *testing.T) {
	m, _ := newTestModule(t)
	if _, err := m.Trace(ClosureDiffuse, MaskDiffuse); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Trace outside frame: %v, want ErrNoFrame", err)
	}
}

func TestBeginFrameRejectsEmptyExtent(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 64, Height: 64})
	in.Extent = Extent{}
	if err := m.BeginFrame(DefaultOptions(), in); !errors.Is(err, ErrBadExtent) {
		t.Errorf("BeginFrame with zero extent: %v, want ErrBadExtent", err)
	}
}

func TestInactiveClosurePlaceholder(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 128, Height: 128})

	if err := m.BeginFrame(noHorizonOptions(), in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}

	res, err := m.Trace(ClosureReflection, MaskDiffuse)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	ext := res.Texture().Extent()
	if ext.Width != 1 || ext.Height != 1 {
		t.Errorf("placeholder extent = %dx%d, want 1x1", ext.Width, ext.Height)
	}
	if m.DenoiseState(ClosureReflection).HistoryRadiance() != nil {
		t.Error("inactive closure retained history memory")
	}
	if n := len(dev.Dispatches()); n != 0 {
		t.Errorf("inactive closure recorded %d dispatches, want 0", n)
	}

	// Placeholder path is idempotent within a frame.
	res2, err := m.Trace(ClosureReflection, MaskDiffuse)
	if err != nil {
		t.Fatalf("repeat Trace: %v", err)
	}
	res2.Release()
	res.Release()
	res.Release() // double release is a no-op
	m.EndFrame()
}

func TestFullChainDispatchOrder(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 256, Height: 128})

	if err := m.BeginFrame(noHorizonOptions(), in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := m.Trace(ClosureReflection, MaskReflection)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	want := []string{
		"tile_classify.diffuse",
		"tile_compact.diffuse",
		"ray_generate.reflection",
		"trace_screen.reflection",
		"denoise_spatial.reflection",
		"denoise_temporal.reflection",
		"denoise_bilateral.reflection",
	}
	got := labelsOf(dev)
	if len(got) != len(want) {
		t.Fatalf("dispatch labels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dispatch %d = %q, want %q", i, got[i], want[i])
		}
	}

	recs := dev.Dispatches()

	// Host-sized vs device-sized dispatches.
	wantIndirect := []bool{false, false, true, true, true, false, true}
	for i, ind := range wantIndirect {
		if recs[i].Indirect != ind {
			t.Errorf("dispatch %d (%s) indirect = %v, want %v", i, recs[i].Pipeline, recs[i].Indirect, ind)
		}
	}

	// Generate and trace read the same argument record, as do the two
	// tile-driven denoise stages.
	if recs[2].IndirectBuffer != recs[3].IndirectBuffer {
		t.Error("generate and trace use different dispatch buffers")
	}
	if recs[4].IndirectBuffer != recs[6].IndirectBuffer {
		t.Error("spatial and bilateral use different dispatch buffers")
	}
	if recs[2].IndirectBuffer == recs[4].IndirectBuffer {
		t.Error("trace and denoise share a dispatch buffer")
	}

	// Classification covers the full tile grid: 256x128 pixels in 8px tiles.
	if recs[0].Groups != [3]uint32{32, 16, 1} {
		t.Errorf("classify groups = %v, want [32 16 1]", recs[0].Groups)
	}
	// Temporal reprojection is screen-wide.
	if recs[5].Groups != [3]uint32{32, 16, 1} {
		t.Errorf("temporal groups = %v, want [32 16 1]", recs[5].Groups)
	}

	// Barriers announce exactly the hazards the next stage depends on.
	if recs[0].BarrierAfter != gpucore.BarrierImageAccess|gpucore.BarrierTextureFetch {
		t.Errorf("classify barrier = %v", recs[0].BarrierAfter)
	}
	if recs[1].BarrierAfter != gpucore.BarrierStorage|gpucore.BarrierIndirectArgs {
		t.Errorf("compact barrier = %v", recs[1].BarrierAfter)
	}
	if recs[6].BarrierAfter != gpucore.BarrierTextureFetch {
		t.Errorf("bilateral barrier = %v", recs[6].BarrierAfter)
	}

	// The tile-mask history is the pipeline's only texture copy.
	copies := dev.Copies()
	if len(copies) != 1 {
		t.Fatalf("copies = %d, want 1", len(copies))
	}
	dstDesc, ok := dev.TextureDesc(copies[0].Dst)
	if !ok {
		t.Fatal("copy destination not live")
	}
	if dstDesc.Format != gpucore.TextureFormatR32Uint || dstDesc.LayerCount() != int(closureCount)*tileMaskKinds {
		t.Errorf("mask history desc = %+v", dstDesc)
	}

	// Final output is full resolution.
	if ext := res.Texture().Extent(); ext != in.Extent {
		t.Errorf("result extent = %v, want %v", ext, in.Extent)
	}

	res.Release()
	m.EndFrame()
}

func TestFallbackTraceVariant(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 64, Height: 64})

	opts := noHorizonOptions()
	opts.Method = MethodNone
	if err := m.BeginFrame(opts, in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := m.Trace(ClosureDiffuse, MaskDiffuse)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	res.Release()
	m.EndFrame()

	labels := labelsOf(dev)
	var sawFallback, sawScreen, sawSpatial bool
	for _, l := range labels {
		switch l {
		case "trace_fallback.diffuse":
			sawFallback = true
		case "trace_screen.diffuse":
			sawScreen = true
		case "denoise_spatial.diffuse":
			sawSpatial = true
		}
	}
	if !sawFallback || sawScreen {
		t.Errorf("fallback method labels = %v", labels)
	}
	if !sawSpatial {
		t.Error("denoise chain did not run with the fallback trace")
	}
}

func TestPlanarProbeSubStep(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 64, Height: 64})

	probe, err := dev.CreateTexture(gpucore.TextureDesc{
		Label: "probe", Width: 64, Height: 64,
		Format: gpucore.TextureFormatRGBA16Float,
		Usage:  gpucore.TextureUsageSampled,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	in.PlanarProbe = probe

	if err := m.BeginFrame(noHorizonOptions(), in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}

	// Reflection gets the probe refinement right after the screen trace.
	res, err := m.Trace(ClosureReflection, maskAll)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	res.Release()

	labels := labelsOf(dev)
	planarAt := -1
	for i, l := range labels {
		if l == "trace_planar.reflection" {
			planarAt = i
		}
	}
	if planarAt < 1 || labels[planarAt-1] != "trace_screen.reflection" {
		t.Errorf("planar step misplaced in %v", labels)
	}

	// Diffuse never runs the planar step, probe or not.
	dev.ResetRecords()
	res, err = m.Trace(ClosureDiffuse, maskAll)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	res.Release()
	for _, l := range labelsOf(dev) {
		if l == "trace_planar.diffuse" {
			t.Error("planar step ran for the diffuse closure")
		}
	}
	m.EndFrame()
}

func TestHorizonPipeline(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 128, Height: 128})

	// Default threshold leaves a rough-surface band for the horizon scan.
	if err := m.BeginFrame(DefaultOptions(), in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := m.Trace(ClosureDiffuse, MaskDiffuse)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	labels := labelsOf(dev)
	wantPrefix := []string{
		"tile_classify.diffuse",
		"tile_compact.diffuse",
		"horizon_setup.diffuse",
		"horizon_scan.diffuse",
		"horizon_denoise.diffuse",
	}
	if len(labels) < len(wantPrefix) {
		t.Fatalf("labels = %v", labels)
	}
	for i, w := range wantPrefix {
		if labels[i] != w {
			t.Errorf("label %d = %q, want %q", i, labels[i], w)
		}
	}

	if m.HorizonOcclusion() == nil || m.HorizonRadiance() == nil {
		t.Error("horizon outputs missing while the frame is open")
	}

	// Horizon runs at its own reduced resolution.
	occ := m.HorizonOcclusion().Extent()
	if occ.Width != 64 || occ.Height != 64 {
		t.Errorf("horizon extent = %v, want 64x64", occ)
	}

	res.Release()
	m.EndFrame()
	if m.HorizonOcclusion() != nil {
		t.Error("horizon output outlived the frame")
	}
}

func TestHorizonSkippedForRefractionOnly(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 64, Height: 64})

	if err := m.BeginFrame(DefaultOptions(), in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := m.Trace(ClosureRefraction, MaskRefraction)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	res.Release()

	for _, l := range labelsOf(dev) {
		if l == "horizon_setup.diffuse" {
			t.Error("horizon ran for a refraction-only frame")
		}
	}
	if m.HorizonOcclusion() != nil {
		t.Error("horizon output present without the horizon pipeline")
	}
	m.EndFrame()
}

func TestHistorySwapIdentity(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 64, Height: 64})
	db := m.DenoiseState(ClosureDiffuse)

	runFrame := func() {
		t.Helper()
		if err := m.BeginFrame(noHorizonOptions(), in); err != nil {
			t.Fatalf("BeginFrame: %v", err)
		}
		res, err := m.Trace(ClosureDiffuse, MaskDiffuse)
		if err != nil {
			t.Fatalf("Trace: %v", err)
		}
		res.Release()
		m.EndFrame()
	}

	runFrame()
	if !db.ValidHistory() {
		t.Fatal("history invalid after a temporal frame")
	}
	h1 := db.HistoryRadiance().ID()

	runFrame()
	h2 := db.HistoryRadiance().ID()
	if h2 == h1 {
		t.Error("history handle did not swap between frames")
	}

	// The pair ping-pongs; no new allocations, no content copies.
	runFrame()
	if h3 := db.HistoryRadiance().ID(); h3 != h1 {
		t.Error("history handles are not a stable ping-pong pair")
	}
	if n := len(dev.Copies()); n != 3 {
		t.Errorf("texture copies = %d, want 3 (one tile-mask copy per frame)", n)
	}
}

func TestResizeColdStartsHistory(t *testing.T) {
	m, dev := newTestModule(t)
	small := makeInputs(t, dev, Extent{Width: 64, Height: 64})

	if err := m.BeginFrame(noHorizonOptions(), small); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := m.Trace(ClosureDiffuse, MaskDiffuse)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	res.Release()
	m.EndFrame()

	db := m.DenoiseState(ClosureDiffuse)
	if !db.ValidHistory() {
		t.Fatal("history invalid after the warm-up frame")
	}

	large := makeInputs(t, dev, Extent{Width: 128, Height: 96})
	if err := m.BeginFrame(noHorizonOptions(), large); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err = m.Trace(ClosureDiffuse, MaskDiffuse)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	// Mid-frame, before the result is finalized: the realloc dropped history.
	if db.ValidHistory() {
		t.Error("history survived a resize")
	}
	if ext := db.HistoryRadiance().Extent(); ext != large.Extent {
		t.Errorf("history extent = %v, want %v", ext, large.Extent)
	}
	res.Release()
	m.EndFrame()

	// The resized frame still primes history for the next one.
	if !db.ValidHistory() {
		t.Error("resized frame did not prime new history")
	}
}

func TestDenoiseDisabledRawResult(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 128, Height: 128})

	opts := noHorizonOptions()
	opts.DenoiseEnabled = false
	opts.ResolutionScale = 2
	if err := m.BeginFrame(opts, in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := m.Trace(ClosureDiffuse, MaskDiffuse)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	// The raw hit radiance comes back at tracing resolution.
	if ext := res.Texture().Extent(); ext.Width != 64 || ext.Height != 64 {
		t.Errorf("raw result extent = %v, want 64x64", ext)
	}
	for _, l := range labelsOf(dev) {
		switch l {
		case "denoise_spatial.diffuse", "denoise_temporal.diffuse", "denoise_bilateral.diffuse":
			t.Errorf("denoise stage %s ran while disabled", l)
		}
	}

	res.Release()
	m.EndFrame()
	if m.DenoiseState(ClosureDiffuse).ValidHistory() {
		t.Error("history marked valid without a temporal stage")
	}
}

func TestSpatialOnlyChain(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 64, Height: 64})

	opts := noHorizonOptions()
	opts.Stages = DenoiseSpatial
	if err := m.BeginFrame(opts, in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := m.Trace(ClosureReflection, MaskReflection)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	res.Release()
	m.EndFrame()

	var sawSpatial, sawTemporal, sawBilateral bool
	for _, l := range labelsOf(dev) {
		switch l {
		case "denoise_spatial.reflection":
			sawSpatial = true
		case "denoise_temporal.reflection":
			sawTemporal = true
		case "denoise_bilateral.reflection":
			sawBilateral = true
		}
	}
	if !sawSpatial || sawTemporal || sawBilateral {
		t.Errorf("spatial-only stages: spatial=%v temporal=%v bilateral=%v",
			sawSpatial, sawTemporal, sawBilateral)
	}
	if len(dev.Copies()) != 0 {
		t.Error("tile-mask history copied without a temporal stage")
	}
	if m.DenoiseState(ClosureReflection).ValidHistory() {
		t.Error("history valid without a temporal stage")
	}
}

func TestClosureDropFreesHistory(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 64, Height: 64})

	run := func(active ClosureMask) {
		t.Helper()
		if err := m.BeginFrame(noHorizonOptions(), in); err != nil {
			t.Fatalf("BeginFrame: %v", err)
		}
		res, err := m.Trace(ClosureReflection, active)
		if err != nil {
			t.Fatalf("Trace: %v", err)
		}
		res.Release()
		m.EndFrame()
	}

	run(MaskReflection)
	db := m.DenoiseState(ClosureReflection)
	if db.HistoryRadiance() == nil {
		t.Fatal("no history after an active frame")
	}

	run(MaskDiffuse)
	if db.HistoryRadiance() != nil {
		t.Error("history retained after the closure dropped out")
	}
	if db.ValidHistory() {
		t.Error("dropped closure still reports valid history")
	}

	// Coming back is a cold start.
	run(MaskReflection)
	if db.HistoryRadiance() == nil {
		t.Error("history not rebuilt after the closure returned")
	}
}

func TestSharedClassificationRunsOnce(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 64, Height: 64})

	if err := m.BeginFrame(noHorizonOptions(), in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	for _, kind := range []ClosureKind{ClosureDiffuse, ClosureReflection, ClosureRefraction} {
		res, err := m.Trace(kind, maskAll)
		if err != nil {
			t.Fatalf("Trace %s: %v", kind, err)
		}
		res.Release()
	}
	m.EndFrame()

	classifies := 0
	for _, l := range labelsOf(dev) {
		if l == "tile_classify.diffuse" {
			classifies++
		}
	}
	if classifies != 1 {
		t.Errorf("classification ran %d times, want 1", classifies)
	}
}

func TestTileListSizing(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 1920, Height: 1080})

	if err := m.BeginFrame(noHorizonOptions(), in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := m.Trace(ClosureDiffuse, MaskDiffuse)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	desc, ok := dev.BufferDesc(m.tiles.traceList.ID())
	if !ok {
		t.Fatal("trace list not live")
	}
	if desc.Size%(tileListAlignment*tileEntrySize) != 0 {
		t.Errorf("trace list size %d not aligned to %d entries", desc.Size, tileListAlignment)
	}
	grid := in.Extent.Tiles()
	if desc.Size < grid.Area()*int(closureCount)*tileEntrySize {
		t.Errorf("trace list size %d below worst case", desc.Size)
	}

	dispDesc, ok := dev.BufferDesc(m.tiles.traceDispatch.ID())
	if !ok {
		t.Fatal("dispatch buffer not live")
	}
	if dispDesc.Size != dispatchBufferSize {
		t.Errorf("dispatch buffer size = %d, want %d", dispDesc.Size, dispatchBufferSize)
	}
	if dispDesc.Usage&gpucore.BufferUsageIndirect == 0 {
		t.Error("dispatch buffer lacks indirect usage")
	}

	// Compaction starts from an empty record with y=z=1.
	data, err := dev.ReadBuffer(m.tiles.traceDispatch.ID(), 0, dispatchBufferSize)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	want := []byte{0, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("dispatch init bytes = %v, want %v", data, want)
		}
	}

	res.Release()
	m.EndFrame()
}

func TestRefractionUsesBackRadiance(t *testing.T) {
	m, dev := newTestModule(t)
	in := makeInputs(t, dev, Extent{Width: 64, Height: 64})

	if err := m.BeginFrame(noHorizonOptions(), in); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := m.Trace(ClosureRefraction, MaskRefraction)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	res.Release()
	m.EndFrame()

	found := false
	for _, l := range labelsOf(dev) {
		if l == "trace_screen.refraction" {
			found = true
		}
	}
	if !found {
		t.Errorf("refraction trace missing from %v", labelsOf(dev))
	}
}

func TestInvalidClosureKindPanics(t *testing.T) {
	m, _ := newTestModule(t)
	defer func() {
		if recover() == nil {
			t.Error("Trace with an invalid closure kind did not panic")
		}
	}()
	m.Trace(ClosureKind(7), maskAll)
}
