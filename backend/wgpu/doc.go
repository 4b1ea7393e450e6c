// Package wgpu implements the compute backend over github.com/gogpu/wgpu.
//
// The backend either opens its own HAL device (Vulkan) or shares a device
// owned by a host application through a gpucontext device provider. All
// scheduler-visible resources are opaque gpucore IDs mapped to HAL objects
// by the adapter in this package.
//
// Memory barriers requested by the scheduler are realized as compute pass
// boundaries: WebGPU-style backends track hazards per pass, so splitting the
// pass at each barrier point yields the ordering the scheduler announced.
package wgpu
