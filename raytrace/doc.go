// Package raytrace schedules a screen-space ray tracing and denoising
// pipeline on a compute backend.
//
// The pipeline runs per shading closure (diffuse, reflection, refraction):
// screen tiles are classified and compacted into device-resident work lists,
// rays are generated and traced for active tiles only, and the sparse result
// is resolved by a spatial, temporal, and bilateral denoise chain. Later
// stages are sized by indirect dispatch from counters written during
// compaction, so the host never reads tile counts back.
//
// Temporal denoising keeps per-closure history (radiance, variance, tile
// mask, view-projection matrix) across frames. History roles are exchanged
// by swapping texture handles at frame end, never by copying contents.
// A resolution change or a skipped temporal stage forces the next frame
// back to a cold start with zero history weight.
//
// A second pipeline, the horizon scan, shares tile classification but keeps
// its own buffers and denoise pass, producing an occlusion estimate for the
// frame.
//
// All GPU work for one frame is issued from a single goroutine in dependency
// order with explicit barriers; concurrency is GPU-internal only.
package raytrace
