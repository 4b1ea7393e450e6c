// Package gpucore defines the compute-backend contract used by the
// ray-tracing scheduler.
//
// The package contains no GPU code itself. It declares opaque resource
// handles, resource descriptors, and the [Backend] interface that concrete
// backends (backend/wgpu, the null backend) implement. The scheduler in
// package raytrace is written entirely against these types, which keeps it
// testable without a GPU.
//
// Resource lifecycle:
//   - Resources are created via Create* methods and must be explicitly
//     destroyed via the matching Destroy* methods.
//   - IDs become invalid after destruction and must not be reused.
//   - Destroying a resource that is still referenced by recorded but
//     unsubmitted work is undefined behavior.
package gpucore
