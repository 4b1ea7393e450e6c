// Command rtdemo runs the ray-tracing pipeline scheduler headlessly and
// reports what it dispatched. With the null backend it is a dry run that
// prints the frame's dispatch schedule; with the wgpu backend the kernels
// execute on the GPU.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AGOOT/blender/backend"
	_ "github.com/AGOOT/blender/backend/wgpu"
	"github.com/AGOOT/blender/gpucore"
	"github.com/AGOOT/blender/raytrace"
)

// demoConfig is the YAML configuration accepted via -config.
type demoConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Frames int `yaml:"frames"`

	Method         string  `yaml:"method"` // "screen" or "none"
	Denoise        bool    `yaml:"denoise"`
	Spatial        bool    `yaml:"spatial"`
	Temporal       bool    `yaml:"temporal"`
	Bilateral      bool    `yaml:"bilateral"`
	Resolution     int     `yaml:"resolution_scale"`
	HorizonScale   int     `yaml:"horizon_scale"`
	RoughnessLimit float32 `yaml:"roughness_threshold"`

	Closures []string `yaml:"closures"`
}

func defaultConfig() demoConfig {
	return demoConfig{
		Width: 1920, Height: 1080, Frames: 4,
		Method: "screen", Denoise: true,
		Spatial: true, Temporal: true, Bilateral: true,
		Resolution: 1, HorizonScale: 2, RoughnessLimit: 0.4,
		Closures: []string{"diffuse", "reflection"},
	}
}

func loadConfig(path string) (demoConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c demoConfig) options() raytrace.Options {
	opts := raytrace.DefaultOptions()
	if c.Method == "none" {
		opts.Method = raytrace.MethodNone
	}
	opts.DenoiseEnabled = c.Denoise
	opts.Stages = 0
	if c.Spatial {
		opts.Stages |= raytrace.DenoiseSpatial
	}
	if c.Temporal {
		opts.Stages |= raytrace.DenoiseTemporal
	}
	if c.Bilateral {
		opts.Stages |= raytrace.DenoiseBilateral
	}
	opts.ResolutionScale = c.Resolution
	opts.HorizonResolutionScale = c.HorizonScale
	opts.RoughnessThreshold = c.RoughnessLimit
	return opts
}

func (c demoConfig) closureMask() (raytrace.ClosureMask, error) {
	var mask raytrace.ClosureMask
	for _, name := range c.Closures {
		switch name {
		case "diffuse":
			mask |= raytrace.MaskDiffuse
		case "reflection":
			mask |= raytrace.MaskReflection
		case "refraction":
			mask |= raytrace.MaskRefraction
		default:
			return 0, fmt.Errorf("unknown closure %q", name)
		}
	}
	return mask, nil
}

func main() {
	var (
		configPath  = flag.String("config", "", "YAML configuration file")
		backendName = flag.String("backend", "", "backend to use (default: best available)")
		verbose     = flag.Bool("v", false, "print every recorded dispatch")
	)
	flag.Parse()

	if *verbose {
		raytrace.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	mask, err := cfg.closureMask()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	var bk backend.ComputeBackend
	if *backendName != "" {
		bk = backend.Get(*backendName)
		if bk == nil {
			log.Fatalf("Unknown backend %q (available: %v)", *backendName, backend.Available())
		}
	} else {
		bk = backend.Default()
		if bk == nil {
			log.Fatal("No backend available")
		}
	}
	if err := bk.Init(); err != nil {
		log.Fatalf("Backend %s init failed: %v", bk.Name(), err)
	}
	defer bk.Close()
	dev := bk.Device()
	log.Printf("Backend: %s", bk.Name())

	module, err := raytrace.New(dev)
	if err != nil {
		log.Fatalf("Pipeline setup failed: %v", err)
	}
	defer module.Close()

	inputs, err := makeInputs(dev, cfg.Width, cfg.Height)
	if err != nil {
		log.Fatalf("Input allocation failed: %v", err)
	}

	opts := cfg.options()
	kinds := []raytrace.ClosureKind{
		raytrace.ClosureDiffuse, raytrace.ClosureReflection, raytrace.ClosureRefraction,
	}

	for frame := 0; frame < cfg.Frames; frame++ {
		if err := module.BeginFrame(opts, inputs); err != nil {
			log.Fatalf("Frame %d: %v", frame, err)
		}
		for _, kind := range kinds {
			res, err := module.Trace(kind, mask)
			if err != nil {
				log.Fatalf("Frame %d %s: %v", frame, kind, err)
			}
			res.Release()
		}
		module.EndFrame()
	}

	log.Printf("Ran %d frames at %dx%d, closures %v", cfg.Frames, cfg.Width, cfg.Height, cfg.Closures)

	// The null device records its schedule; summarize it.
	if null, ok := dev.(*backend.NullDevice); ok {
		reportSchedule(null, *verbose)
	}
}

// makeInputs allocates placeholder frame inputs on the device. A real
// renderer would hand over its gbuffer and radiance targets instead.
func makeInputs(dev gpucore.Backend, width, height int) (raytrace.FrameInputs, error) {
	in := raytrace.FrameInputs{
		Extent:   raytrace.Extent{Width: width, Height: height},
		ViewProj: raytrace.Mat4Identity(),
	}
	create := func(label string, format gpucore.TextureFormat) (gpucore.TextureID, error) {
		return dev.CreateTexture(gpucore.TextureDesc{
			Label:  label,
			Width:  width,
			Height: height,
			Format: format,
			Usage:  gpucore.TextureUsageSampled | gpucore.TextureUsageCopyDst,
		})
	}

	var err error
	if in.Depth, err = create("demo.depth", gpucore.TextureFormatR32Float); err != nil {
		return in, err
	}
	if in.RadianceFront, err = create("demo.radiance_front", gpucore.TextureFormatRGBA16Float); err != nil {
		return in, err
	}
	if in.RadianceBack, err = create("demo.radiance_back", gpucore.TextureFormatRGBA16Float); err != nil {
		return in, err
	}
	in.NormalRoughness, err = create("demo.normal_roughness", gpucore.TextureFormatRGBA16Float)
	return in, err
}

func reportSchedule(dev *backend.NullDevice, verbose bool) {
	recs := dev.Dispatches()
	counts := make(map[string]int)
	indirect := 0
	for _, r := range recs {
		counts[r.Pipeline]++
		if r.Indirect {
			indirect++
		}
	}

	fmt.Printf("\nDispatches: %d total, %d device-sized, %d texture copies\n",
		len(recs), indirect, len(dev.Copies()))
	for label, n := range counts {
		fmt.Printf("  %-32s x%d\n", label, n)
	}
	if verbose {
		fmt.Println("\nSchedule:")
		for i, r := range recs {
			mode := fmt.Sprintf("groups=%v", r.Groups)
			if r.Indirect {
				mode = fmt.Sprintf("indirect buf=%d", r.IndirectBuffer)
			}
			fmt.Printf("  %3d %-32s %s barrier=%#x\n", i, r.Pipeline, mode, r.BarrierAfter)
		}
	}
	fmt.Printf("Live resources: %d textures, %d buffers\n", dev.LiveTextures(), dev.LiveBuffers())
}
