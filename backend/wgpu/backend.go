package wgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/AGOOT/blender/backend"
	"github.com/AGOOT/blender/gpucore"
)

// Backend errors.
var (
	// ErrNoAdapter is returned when no usable GPU adapter is found.
	ErrNoAdapter = errors.New("wgpu: no GPU adapter available")

	// ErrNoProviderDevice is returned when a device provider does not expose
	// HAL types.
	ErrNoProviderDevice = errors.New("wgpu: provider does not expose HAL device")
)

// init registers the wgpu backend on package import.
func init() {
	backend.Register(backend.BackendWGPU, func() backend.ComputeBackend {
		return New()
	})
}

// Backend is the WebGPU compute backend.
//
// By default Init opens its own Vulkan device. A host application that
// already owns a device can share it by calling SetDeviceProvider before
// Init; the provider must implement HalDevice() any and HalQueue() any
// returning wgpu/hal types (the gpucontext provider convention).
type Backend struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	adapter        *Adapter
	externalDevice bool
	initialized    bool
}

// New creates a new, uninitialized wgpu backend.
func New() *Backend {
	return &Backend{}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return backend.BackendWGPU }

// SetDeviceProvider switches the backend to a shared GPU device from a host
// application's provider. Must be called before Init. The provider must also
// expose HalDevice() any and HalQueue() any returning wgpu/hal types.
func (b *Backend) SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return ErrNoProviderDevice
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoProviderDevice)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoProviderDevice)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.device = device
	b.queue = queue
	b.externalDevice = true
	return nil
}

// Init opens the device (unless one was shared) and builds the adapter.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	if !b.externalDevice {
		if err := b.openDevice(); err != nil {
			return err
		}
	}

	b.adapter = NewAdapter(b.device, b.queue, nil)
	b.initialized = true
	return nil
}

// openDevice creates an instance, picks an adapter and opens a device.
// The caller must hold b.mu.
func (b *Backend) openDevice() error {
	halBackend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("%w: vulkan backend not registered", ErrNoAdapter)
	}
	instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("wgpu: open device: %w", err)
	}

	b.instance = instance
	b.device = openDev.Device
	b.queue = openDev.Queue
	return nil
}

// Close releases the device and, when owned, the instance.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.adapter != nil {
		b.adapter.destroyAll()
		b.adapter = nil
	}
	if !b.externalDevice {
		if b.device != nil {
			b.device.Destroy()
		}
		if b.instance != nil {
			b.instance.Destroy()
		}
	}
	b.device = nil
	b.queue = nil
	b.instance = nil
	b.initialized = false
	b.externalDevice = false
}

// Device returns the compute device. Only valid after Init().
func (b *Backend) Device() gpucore.Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapter
}
