// Package capturetest provides a scripted in-memory capture driver.
package capturetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/silencevoice/silencevoice/internal/capture"
)

// FakeDriver is a scripted in-memory capture.Driver.
type FakeDriver struct {
	OpenErr error
	// Final is delivered to the sink when a recording stops.
	Final    []byte
	StopErr  error
	Settings capture.Settings

	mu      sync.Mutex
	devices []*FakeDevice
	opens   atomic.Int32
}

func (f *FakeDriver) Open(_ context.Context, c capture.Constraints) (capture.Device, error) {
	f.opens.Add(1)
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	settings := f.Settings
	if settings.VideoDevice == "" {
		settings = capture.Settings{VideoDevice: "fake0", Width: c.Width, Height: c.Height, AudioSource: "fake-mic"}
	}
	dev := &FakeDevice{driver: f, settings: settings}
	f.mu.Lock()
	f.devices = append(f.devices, dev)
	f.mu.Unlock()
	return dev, nil
}

// Opens counts Open calls.
func (f *FakeDriver) Opens() int { return int(f.opens.Load()) }

// Device returns the most recently opened device, or nil.
func (f *FakeDriver) Device() *FakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.devices) == 0 {
		return nil
	}
	return f.devices[len(f.devices)-1]
}

// FakeDevice records sink registrations so tests can push fragments.
type FakeDevice struct {
	driver   *FakeDriver
	settings capture.Settings

	mu        sync.Mutex
	sink      func([]byte)
	mimeTypes []string
	closes    atomic.Int32
}

func (d *FakeDevice) Settings() capture.Settings { return d.settings }

func (d *FakeDevice) Close() error {
	d.closes.Add(1)
	return nil
}

// Closes counts Close calls.
func (d *FakeDevice) Closes() int { return int(d.closes.Load()) }

// MimeTypes lists the media types requested by Record, in order.
func (d *FakeDevice) MimeTypes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.mimeTypes...)
}

func (d *FakeDevice) Record(_ context.Context, mimeType string, sink func([]byte)) (capture.Recording, error) {
	d.mu.Lock()
	d.sink = sink
	d.mimeTypes = append(d.mimeTypes, mimeType)
	d.mu.Unlock()
	return &fakeRecording{device: d, sink: sink}, nil
}

// Emit pushes one fragment to the active recording's sink.
func (d *FakeDevice) Emit(fragment []byte) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink(fragment)
	}
}

type fakeRecording struct {
	device *FakeDevice
	sink   func([]byte)
	once   sync.Once
}

func (r *fakeRecording) Stop() error {
	r.once.Do(func() {
		if final := r.device.driver.Final; len(final) > 0 {
			r.sink(append([]byte(nil), final...))
		}
		r.device.mu.Lock()
		r.device.sink = nil
		r.device.mu.Unlock()
	})
	return r.device.driver.StopErr
}
