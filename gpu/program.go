package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/compute/wgsl"
)

type program struct {
	c      *Context
	label  string
	module *wgpu.ShaderModule
	refl   *wgsl.Reflection
	bgl    *wgpu.BindGroupLayout
	layout *wgpu.PipelineLayout
}

func bindingType(kind wgsl.BindingKind) wgpu.BufferBindingType {
	switch kind {
	case wgsl.BindingStorage:
		return wgpu.BufferBindingTypeStorage
	case wgsl.BindingUniform:
		return wgpu.BufferBindingTypeUniform
	}
	return wgpu.BufferBindingTypeReadOnlyStorage
}

// BuildProgram compiles src with the driver's shader compiler, whose message
// is the build log on failure, then derives an explicit bind group layout
// from the reflected bindings.
func (c *Context) BuildProgram(src compute.KernelSource) (compute.DeviceProgram, error) {
	if c.closed {
		return nil, errClosed
	}
	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          src.Name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: src.Text},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %v", src.Name, err)
	}
	p := &program{c: c, label: src.Name, module: module}

	p.refl, err = wgsl.Reflect(src.Name, src.Text)
	if err != nil {
		p.Release()
		return nil, err
	}
	lim := c.limits.Limits
	err = p.refl.CheckLimits(src.Name, wgsl.Limits{
		MaxInvocations: lim.MaxComputeInvocationsPerWorkgroup,
		MaxSize:        [3]uint32{lim.MaxComputeWorkgroupSizeX, lim.MaxComputeWorkgroupSizeY, lim.MaxComputeWorkgroupSizeZ},
	})
	if err != nil {
		p.Release()
		return nil, err
	}

	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(p.refl.Bindings))
	for _, b := range p.refl.Bindings {
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    b.Slot,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: bindingType(b.Kind)},
		})
	}
	p.bgl, err = c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   src.Name + "_BGL",
		Entries: entries,
	})
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("create bind group layout: %w", err)
	}
	p.layout, err = c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            src.Name + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.bgl},
	})
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("create pipeline layout: %w", err)
	}
	return p, nil
}

func (p *program) Reflection() *wgsl.Reflection { return p.refl }

func (p *program) Kernel(entry string) (compute.DeviceKernel, error) {
	pipeline, err := p.c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.label + "_" + entry,
		Layout: p.layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     p.module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: pipeline %s: %v", p.label, entry, err)
	}
	return &kernel{c: p.c, name: entry, pipeline: pipeline, bgl: p.bgl}, nil
}

func (p *program) Release() {
	if p.layout != nil {
		p.layout.Release()
		p.layout = nil
	}
	if p.bgl != nil {
		p.bgl.Release()
		p.bgl = nil
	}
	if p.module != nil {
		p.module.Release()
		p.module = nil
	}
}

type kernel struct {
	c        *Context
	name     string
	pipeline *wgpu.ComputePipeline
	bgl      *wgpu.BindGroupLayout
	// bindGroup holds the views of the last dispatch until Unbind.
	bindGroup *wgpu.BindGroup
}

// Dispatch records one compute pass and submits it to the queue. It does
// not wait for the work to finish.
func (k *kernel) Dispatch(bindings []compute.SlotBinding, groups [3]uint32) error {
	if k.c.closed {
		return errClosed
	}
	limit := k.c.limits.Limits.MaxComputeWorkgroupsPerDimension
	for i, n := range groups {
		if n == 0 || (limit > 0 && n > limit) {
			return fmt.Errorf("work-group count %d in dimension %d is outside 1..%d", n, i, limit)
		}
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(bindings))
	for _, b := range bindings {
		buf := b.Buffer.(*buffer)
		entries = append(entries, wgpu.BindGroupEntry{Binding: b.Slot, Buffer: buf.buf, Offset: 0, Size: buf.buf.GetSize()})
	}
	k.Unbind()
	bg, err := k.c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   k.name + "_Bind",
		Layout:  k.bgl,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}
	k.bindGroup = bg

	enc, err := k.c.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: k.name + "_Enc"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(groups[0], groups[1], groups[2])
	pass.End()

	cmd, err := enc.Finish(nil)
	if err != nil {
		enc.Release()
		return fmt.Errorf("finish %s: %w", k.name, err)
	}
	enc.Release()
	k.c.Queue.Submit(cmd)
	cmd.Release()
	return nil
}

func (k *kernel) Unbind() {
	if k.bindGroup != nil {
		k.bindGroup.Release()
		k.bindGroup = nil
	}
}

func (k *kernel) Release() {
	k.Unbind()
	if k.pipeline != nil {
		k.pipeline.Release()
		k.pipeline = nil
	}
}
