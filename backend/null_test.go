package backend

import (
	"errors"
	"testing"

	"github.com/AGOOT/blender/gpucore"
)

func TestNullDeviceBufferRoundTrip(t *testing.T) {
	dev := NewNullDevice()

	id, err := dev.CreateBuffer(gpucore.BufferDesc{Label: "b", Size: 16, Usage: gpucore.BufferUsageStorage})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	dev.WriteBuffer(id, 4, []byte{1, 2, 3, 4})
	data, err := dev.ReadBuffer(id, 0, 16)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if data[4] != 1 || data[7] != 4 || data[0] != 0 {
		t.Errorf("buffer contents = %v", data)
	}

	dev.ClearBuffer(id)
	data, _ = dev.ReadBuffer(id, 0, 16)
	for _, b := range data {
		if b != 0 {
			t.Fatal("ClearBuffer left nonzero bytes")
		}
	}

	if _, err := dev.ReadBuffer(id, 8, 16); err == nil {
		t.Error("out-of-range read succeeded")
	}

	dev.DestroyBuffer(id)
	if _, err := dev.ReadBuffer(id, 0, 1); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("read after destroy: %v, want ErrResourceNotFound", err)
	}
}

func TestNullDeviceBudget(t *testing.T) {
	dev := NewNullDevice()
	dev.SetBudget(1024)

	small, err := dev.CreateBuffer(gpucore.BufferDesc{Label: "small", Size: 512, Usage: gpucore.BufferUsageStorage})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if _, err := dev.CreateBuffer(gpucore.BufferDesc{Label: "big", Size: 1024, Usage: gpucore.BufferUsageStorage}); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("over-budget create: %v, want ErrBudgetExceeded", err)
	}

	// Freeing gives the budget back.
	dev.DestroyBuffer(small)
	if _, err := dev.CreateBuffer(gpucore.BufferDesc{Label: "big", Size: 1024, Usage: gpucore.BufferUsageStorage}); err != nil {
		t.Errorf("create after free: %v", err)
	}

	if _, err := dev.CreateTexture(gpucore.TextureDesc{
		Label: "huge", Width: 1024, Height: 1024,
		Format: gpucore.TextureFormatRGBA16Float,
		Usage:  gpucore.TextureUsageStorage,
	}); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("over-budget texture: %v, want ErrBudgetExceeded", err)
	}
}

func TestNullDeviceCopyValidation(t *testing.T) {
	dev := NewNullDevice()

	desc := gpucore.TextureDesc{
		Label: "a", Width: 32, Height: 32,
		Format: gpucore.TextureFormatR32Uint,
		Usage:  gpucore.TextureUsageCopySrc | gpucore.TextureUsageCopyDst,
	}
	a, err := dev.CreateTexture(desc)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	b, err := dev.CreateTexture(desc)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}

	if err := dev.CopyTexture(a, b); err != nil {
		t.Errorf("matching copy failed: %v", err)
	}
	if got := len(dev.Copies()); got != 1 {
		t.Errorf("Copies() = %d, want 1", got)
	}

	desc.Width = 16
	c, err := dev.CreateTexture(desc)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	if err := dev.CopyTexture(a, c); !errors.Is(err, ErrCopyMismatch) {
		t.Errorf("mismatched copy: %v, want ErrCopyMismatch", err)
	}
	if err := dev.CopyTexture(a, gpucore.TextureID(999)); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("copy from missing texture: %v, want ErrResourceNotFound", err)
	}
}

func TestNullDeviceDispatchRecording(t *testing.T) {
	dev := NewNullDevice()

	module, err := dev.CreateShaderModule("fn main() {}", "k")
	if err != nil {
		t.Fatalf("CreateShaderModule: %v", err)
	}
	layout, err := dev.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{Label: "l"})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout: %v", err)
	}
	pLayout, err := dev.CreatePipelineLayout([]gpucore.BindGroupLayoutID{layout})
	if err != nil {
		t.Fatalf("CreatePipelineLayout: %v", err)
	}
	pipeline, err := dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label: "kernel.a", Layout: pLayout, ShaderModule: module, EntryPoint: "main",
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}
	args, err := dev.CreateBuffer(gpucore.BufferDesc{Label: "args", Size: 16, Usage: gpucore.BufferUsageIndirect})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	enc := dev.BeginComputePass()
	enc.SetPipeline(pipeline)
	enc.Dispatch(4, 2, 1)
	enc.Barrier(gpucore.BarrierStorage)
	enc.DispatchIndirect(args, 0)
	enc.Barrier(gpucore.BarrierImageAccess)
	enc.Barrier(gpucore.BarrierTextureFetch)
	enc.End()
	enc.Dispatch(1, 1, 1) // after End: dropped
	dev.Submit()

	recs := dev.Dispatches()
	if len(recs) != 2 {
		t.Fatalf("recorded %d dispatches, want 2", len(recs))
	}
	if recs[0].Pipeline != "kernel.a" || recs[0].Groups != [3]uint32{4, 2, 1} || recs[0].Indirect {
		t.Errorf("direct record = %+v", recs[0])
	}
	if recs[0].BarrierAfter != gpucore.BarrierStorage {
		t.Errorf("direct barrier = %v", recs[0].BarrierAfter)
	}
	if !recs[1].Indirect || recs[1].IndirectBuffer != args {
		t.Errorf("indirect record = %+v", recs[1])
	}
	// Consecutive barriers accumulate on the last dispatch.
	if recs[1].BarrierAfter != gpucore.BarrierImageAccess|gpucore.BarrierTextureFetch {
		t.Errorf("indirect barrier = %v", recs[1].BarrierAfter)
	}

	dev.ResetRecords()
	if len(dev.Dispatches()) != 0 || len(dev.Copies()) != 0 {
		t.Error("ResetRecords left records behind")
	}
}

func TestNullDeviceBindGroupValidation(t *testing.T) {
	dev := NewNullDevice()

	layout, err := dev.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{Label: "l"})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout: %v", err)
	}

	if _, err := dev.CreateBindGroup(layout, []gpucore.BindGroupEntry{
		{Binding: 0, Buffer: gpucore.BufferID(42)},
	}); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("bind of missing buffer: %v, want ErrResourceNotFound", err)
	}

	buf, err := dev.CreateBuffer(gpucore.BufferDesc{Label: "u", Size: 64, Usage: gpucore.BufferUsageUniform})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if _, err := dev.CreateBindGroup(layout, []gpucore.BindGroupEntry{
		{Binding: 0, Buffer: buf},
	}); err != nil {
		t.Errorf("valid bind group failed: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	if !IsRegistered(BackendNull) {
		t.Fatal("null backend not registered on import")
	}

	b := Get(BackendNull)
	if b == nil {
		t.Fatal("Get(BackendNull) = nil")
	}
	if b.Name() != BackendNull {
		t.Errorf("Name() = %q, want %q", b.Name(), BackendNull)
	}
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer b.Close()
	if b.Device() == nil {
		t.Error("Device() = nil after Init")
	}

	if Get("no-such-backend") != nil {
		t.Error("Get of an unknown backend returned a value")
	}

	// Default falls through the priority list to whatever is available.
	if d := Default(); d == nil {
		t.Error("Default() = nil with the null backend registered")
	}
}
