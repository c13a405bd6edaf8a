package gpu

import (
	"errors"
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/saxpy/compute"
)

var errClosed = errors.New("WebGPU device is closed")

// MapTimeout bounds the wait for a staging buffer to map. A device that
// does not answer in time is reported as a failed dispatch.
var MapTimeout = 5 * time.Second

type buffer struct {
	label string
	buf   *wgpu.Buffer
	size  uint64
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Release() {
	b.buf.Destroy()
	b.buf.Release()
}

// usage maps a buffer role to WebGPU usage flags. Storage buffers cannot
// also be mapped, so host reads always go through a staging buffer.
func usage(role compute.Role) wgpu.BufferUsage {
	switch role {
	case compute.RoleConstant:
		return wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	case compute.RoleStaging:
		return wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
	}
	return wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
}

func (c *Context) CreateBuffer(desc compute.BufferDesc) (compute.DeviceBuffer, error) {
	if c.closed {
		return nil, errClosed
	}
	if limit := c.limits.Limits.MaxBufferSize; limit > 0 && desc.Size > limit {
		return nil, fmt.Errorf("buffer %q: %d bytes exceeds the device limit %d", desc.Label, desc.Size, limit)
	}
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage(desc.Role),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %q: %w", desc.Label, err)
	}
	return &buffer{label: desc.Label, buf: buf, size: desc.Size}, nil
}

// WriteBuffer queues a write; it lands before any later submission.
func (c *Context) WriteBuffer(dst compute.DeviceBuffer, data []byte) error {
	if c.closed {
		return errClosed
	}
	c.Queue.WriteBuffer(dst.(*buffer).buf, 0, data)
	return nil
}

func (c *Context) CopyBuffer(dst, src compute.DeviceBuffer) error {
	if c.closed {
		return errClosed
	}
	d, s := dst.(*buffer), src.(*buffer)
	enc, err := c.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "copy " + s.label})
	if err != nil {
		return fmt.Errorf("failed to create command encoder: %w", err)
	}
	enc.CopyBufferToBuffer(s.buf, 0, d.buf, 0, s.size)
	cmd, err := enc.Finish(nil)
	if err != nil {
		enc.Release()
		return fmt.Errorf("failed to finish command: %w", err)
	}
	enc.Release()
	c.Queue.Submit(cmd)
	cmd.Release()
	return nil
}

// ReadBuffer maps a staging buffer once the queue has reached it and
// returns a copy of its contents.
func (c *Context) ReadBuffer(src compute.DeviceBuffer) ([]byte, error) {
	if c.closed {
		return nil, errClosed
	}
	b := src.(*buffer)

	done := make(chan struct{})
	var mapErr error
	err := b.buf.MapAsync(wgpu.MapModeRead, 0, b.size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map %q failed: %v", b.label, status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync %q failed: %w", b.label, err)
	}

	timeout := time.After(MapTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-timeout:
			return nil, fmt.Errorf("mapping %q timed out after %v", b.label, MapTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := b.buf.GetMappedRange(0, uint(b.size))
	if data == nil {
		b.buf.Unmap()
		return nil, fmt.Errorf("failed to get mapped range of %q", b.label)
	}
	out := append([]byte(nil), data...)
	b.buf.Unmap()
	return out, nil
}
