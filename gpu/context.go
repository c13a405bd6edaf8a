// Package gpu is the WebGPU device adapter.
package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/internal/logging"
)

func init() {
	compute.Register("webgpu", func(opts compute.Options) (compute.Device, error) {
		return Open(opts)
	})
}

// Context holds one WebGPU device and its queue. It implements
// compute.Device; the queue is the command channel.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	limits wgpu.SupportedLimits
	info   compute.DeviceInfo
	debug  bool
	closed bool
}

// RequestAdapter tries a high-performance adapter, then low power, then the
// implementation default.
func RequestAdapter(inst *wgpu.Instance, debug bool) (*wgpu.Adapter, error) {
	if debug {
		for _, a := range inst.EnumerateAdapters(nil) {
			info := a.GetInfo()
			logging.Debugf("found adapter %s (vendor %s, device 0x%X, vendor 0x%X, type %s, backend %s)",
				info.Name, info.VendorName, info.DeviceId, info.VendorId, info.AdapterType, info.BackendType)
		}
	}

	var lastErr error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		adapter, err := inst.RequestAdapter(opts)
		if err == nil && adapter != nil {
			return adapter, nil
		}
		if err == nil {
			err = fmt.Errorf("no adapter returned")
		}
		logging.Debugf("adapter request failed: %v, falling back", err)
		lastErr = err
	}
	return nil, fmt.Errorf("all adapter attempts failed: %w", lastErr)
}

// Open acquires an adapter and a device whose limits match what the adapter
// supports, so work-groups larger than the WebGPU defaults can be used.
func Open(opts compute.Options) (*Context, error) {
	c := &Context{debug: opts.Debug}
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return nil, fmt.Errorf("failed to create WebGPU instance")
	}

	var err error
	c.Adapter, err = RequestAdapter(c.Instance, opts.Debug)
	if err != nil {
		c.Instance.Release()
		return nil, err
	}

	info := c.Adapter.GetInfo()
	c.limits = c.Adapter.GetLimits()
	c.Device, err = c.Adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "saxpy",
		RequiredLimits: &wgpu.RequiredLimits{Limits: c.limits.Limits},
	})
	if err != nil {
		c.Adapter.Release()
		c.Instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	c.Queue = c.Device.GetQueue()
	if c.Queue == nil {
		c.Close()
		return nil, fmt.Errorf("WebGPU device has no queue")
	}

	c.info = compute.DeviceInfo{
		Name:             info.Name,
		Backend:          "webgpu",
		Tier:             fmt.Sprintf("%s/%s", info.AdapterType, info.BackendType),
		MaxWorkgroupSize: c.limits.Limits.MaxComputeInvocationsPerWorkgroup,
	}
	logging.Debugf("using GPU adapter %s (vendor %s, driver %s)", info.Name, info.VendorName, info.DriverDescription)
	return c, nil
}

func (c *Context) Info() compute.DeviceInfo { return c.info }

// Limits returns the limits the device was created with.
func (c *Context) Limits() wgpu.Limits { return c.limits.Limits }

// Sync blocks until the queue has drained.
func (c *Context) Sync() error {
	if c.closed {
		return errClosed
	}
	c.Device.Poll(true, nil)
	return nil
}

func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.Device != nil {
		c.Device.Poll(true, nil)
		c.Device.Release()
	}
	if c.Adapter != nil {
		c.Adapter.Release()
	}
	if c.Instance != nil {
		c.Instance.Release()
	}
	return nil
}
