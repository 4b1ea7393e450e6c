// Package backend provides compute backend selection for the ray-tracing
// scheduler.
//
// Backends register themselves via Register(), typically from init()
// functions, and are selected via Get() or Default(). The null backend is
// always available and serves headless runs and tests.
package backend

import (
	"errors"

	"github.com/AGOOT/blender/gpucore"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")
)

// Backend name constants.
const (
	// BackendWGPU is the name of the WebGPU compute backend (gogpu/wgpu).
	BackendWGPU = "wgpu"

	// BackendNull is the name of the in-memory recording backend.
	BackendNull = "null"
)

// ComputeBackend is the interface for compute backend providers.
// It owns device lifetime; the device itself is exposed as a
// gpucore.Backend.
type ComputeBackend interface {
	// Name returns the backend identifier (e.g. "wgpu", "null").
	Name() string

	// Init initializes the backend. It must be called before Device().
	Init() error

	// Close releases all backend resources.
	// The backend must not be used after Close is called.
	Close()

	// Device returns the compute device. Only valid after Init().
	Device() gpucore.Backend
}
