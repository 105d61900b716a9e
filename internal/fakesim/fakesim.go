// Package fakesim is an in-memory device backend for tests. State
// transitions are immediate unless a device is stuck, and any backend
// operation can be made to fail per device.
package fakesim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/giantswarm/simpool/internal/backend"
)

// Op names a backend operation for failure injection and call recording.
type Op string

const (
	OpList     Op = "list"
	OpCreate   Op = "create"
	OpDelete   Op = "delete"
	OpBoot     Op = "boot"
	OpShutdown Op = "shutdown"
	OpErase    Op = "erase"
	OpState    Op = "state"
)

// Call records one backend call.
type Call struct {
	Op   Op
	UDID string
}

// DefaultRuntime is used when a device is created without a runtime.
const DefaultRuntime = "iOS 17.2"

var _ backend.DeviceSet = (*DeviceSet)(nil)

// DeviceSet is an in-memory backend.DeviceSet. It is safe for concurrent use.
type DeviceSet struct {
	mu sync.Mutex

	devices []*Device
	// stuck overrides the reported state of a device regardless of calls.
	stuck    map[string]string
	failures map[Call]error
	calls    []Call

	deviceTypes    []string
	runtimes       []string
	defaultRuntime string
	dataRoot       string
	nextPID        int
}

// Option configures a DeviceSet.
type Option func(*DeviceSet)

// WithDeviceTypes restricts CreateDevice to the given device types.
// Without it, any non-empty device type is accepted.
func WithDeviceTypes(types ...string) Option {
	return func(s *DeviceSet) {
		s.deviceTypes = types
	}
}

// WithRuntimes restricts CreateDevice to the given runtimes. The first one
// is the default for specs with an empty runtime.
func WithRuntimes(runtimes ...string) Option {
	return func(s *DeviceSet) {
		s.runtimes = runtimes
		if len(runtimes) > 0 {
			s.defaultRuntime = runtimes[0]
		}
	}
}

// WithDataRoot sets the directory under which device data paths live.
func WithDataRoot(dir string) Option {
	return func(s *DeviceSet) {
		s.dataRoot = dir
	}
}

// New returns an empty DeviceSet.
func New(opts ...Option) *DeviceSet {
	s := &DeviceSet{
		stuck:          make(map[string]string),
		failures:       make(map[Call]error),
		defaultRuntime: DefaultRuntime,
		dataRoot:       filepath.Join(os.TempDir(), "fakesim"),
		nextPID:        1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add seeds a device as if something outside the pool had created it.
func (s *DeviceSet) Add(spec backend.DeviceSpec, state string) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(spec, state)
}

func (s *DeviceSet) addLocked(spec backend.DeviceSpec, state string) *Device {
	runtime := spec.Runtime
	if runtime == "" {
		runtime = s.defaultRuntime
	}
	udid := strings.ToUpper(uuid.NewString())
	d := &Device{
		set:        s,
		udid:       udid,
		name:       spec.Name,
		deviceType: spec.DeviceType,
		runtime:    runtime,
		dataPath:   filepath.Join(s.dataRoot, udid, "data"),
		state:      state,
		pid:        -1,
	}
	if state == backend.StateBooted || state == backend.StateBooting {
		d.pid = s.allocPIDLocked()
	}
	s.devices = append(s.devices, d)
	return d
}

func (s *DeviceSet) allocPIDLocked() int {
	pid := s.nextPID
	s.nextPID += 2
	return pid
}

// Fail makes op on udid return err until cleared with a nil err.
// Use an empty udid with OpList or OpCreate.
func (s *DeviceSet) Fail(op Op, udid string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Call{Op: op, UDID: udid}
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

// Stick pins the reported state of udid. An empty state unpins it.
func (s *DeviceSet) Stick(udid, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == "" {
		delete(s.stuck, udid)
		return
	}
	s.stuck[udid] = state
}

// SetState changes a device's state directly, as an external tool would.
func (s *DeviceSet) SetState(udid, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.findLocked(udid); d != nil {
		d.setStateLocked(state)
	}
}

// Get returns the device with udid, or nil.
func (s *DeviceSet) Get(udid string) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(udid)
}

// Len returns the number of devices in the set.
func (s *DeviceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

// Calls returns the recorded calls for op, in order.
func (s *DeviceSet) Calls(op Op) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Devices implements backend.DeviceSet.
func (s *DeviceSet) Devices(ctx context.Context) ([]backend.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(OpList, ""); err != nil {
		return nil, err
	}
	out := make([]backend.Device, len(s.devices))
	for i, d := range s.devices {
		out[i] = d
	}
	return out, nil
}

// CreateDevice implements backend.DeviceSet.
func (s *DeviceSet) CreateDevice(ctx context.Context, spec backend.DeviceSpec) (backend.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(OpCreate, ""); err != nil {
		return nil, err
	}
	if spec.DeviceType == "" || (len(s.deviceTypes) > 0 && !slices.Contains(s.deviceTypes, spec.DeviceType)) {
		return nil, fmt.Errorf("invalid device type %q: %w", spec.DeviceType, backend.ErrNoMatchingConfiguration)
	}
	if spec.Runtime != "" && len(s.runtimes) > 0 && !slices.Contains(s.runtimes, spec.Runtime) {
		return nil, fmt.Errorf("invalid runtime %q: %w", spec.Runtime, backend.ErrNoMatchingConfiguration)
	}
	return s.addLocked(spec, backend.StateShutdown), nil
}

// DeleteDevice implements backend.DeviceSet.
func (s *DeviceSet) DeleteDevice(ctx context.Context, udid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(OpDelete, udid); err != nil {
		return err
	}
	i := slices.IndexFunc(s.devices, func(d *Device) bool { return d.udid == udid })
	if i < 0 {
		return fmt.Errorf("delete %s: %w", udid, backend.ErrDeviceNotFound)
	}
	s.devices[i].deleted = true
	s.devices = slices.Delete(s.devices, i, i+1)
	delete(s.stuck, udid)
	return nil
}

func (s *DeviceSet) findLocked(udid string) *Device {
	for _, d := range s.devices {
		if d.udid == udid {
			return d
		}
	}
	return nil
}

func (s *DeviceSet) recordLocked(op Op, udid string) error {
	c := Call{Op: op, UDID: udid}
	s.calls = append(s.calls, c)
	return s.failures[c]
}

var _ backend.Device = (*Device)(nil)

// Device is a fake device record. Its mutable fields are guarded by the
// owning DeviceSet's mutex.
type Device struct {
	set *DeviceSet

	udid       string
	name       string
	deviceType string
	runtime    string
	dataPath   string

	state   string
	pid     int
	deleted bool
}

func (d *Device) UDID() string       { return d.udid }
func (d *Device) Name() string       { return d.name }
func (d *Device) DeviceType() string { return d.deviceType }
func (d *Device) Runtime() string    { return d.runtime }
func (d *Device) DataPath() string   { return d.dataPath }

// StateString implements backend.Device.
func (d *Device) StateString(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.set.mu.Lock()
	defer d.set.mu.Unlock()
	if err := d.set.recordLocked(OpState, d.udid); err != nil {
		return "", err
	}
	if d.deleted {
		return "", fmt.Errorf("state of %s: %w", d.udid, backend.ErrDeviceNotFound)
	}
	return d.currentLocked(), nil
}

// ProcessIdentifiers implements backend.Device.
func (d *Device) ProcessIdentifiers(ctx context.Context) (backend.ProcessIdentifiers, error) {
	if err := ctx.Err(); err != nil {
		return backend.NoProcesses, err
	}
	d.set.mu.Lock()
	defer d.set.mu.Unlock()
	if d.pid < 0 {
		return backend.NoProcesses, nil
	}
	return backend.ProcessIdentifiers{Main: d.pid, LaunchdBootstrap: d.pid + 1}, nil
}

// Boot implements backend.Device.
func (d *Device) Boot(ctx context.Context) error {
	return d.transition(ctx, OpBoot, func() error {
		switch d.currentLocked() {
		case backend.StateBooted, backend.StateBooting:
			return nil
		case backend.StateShutdown:
			d.setStateLocked(backend.StateBooted)
			return nil
		default:
			return fmt.Errorf("unable to boot device in current state: %s", d.currentLocked())
		}
	})
}

// Shutdown implements backend.Device.
func (d *Device) Shutdown(ctx context.Context) error {
	return d.transition(ctx, OpShutdown, func() error {
		d.setStateLocked(backend.StateShutdown)
		return nil
	})
}

// Erase implements backend.Device.
func (d *Device) Erase(ctx context.Context) error {
	return d.transition(ctx, OpErase, func() error {
		if st := d.currentLocked(); st != backend.StateShutdown {
			return fmt.Errorf("unable to erase contents and settings in current state: %s", st)
		}
		return nil
	})
}

func (d *Device) transition(ctx context.Context, op Op, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.set.mu.Lock()
	defer d.set.mu.Unlock()
	if err := d.set.recordLocked(op, d.udid); err != nil {
		return err
	}
	if d.deleted {
		return fmt.Errorf("%s %s: %w", op, d.udid, backend.ErrDeviceNotFound)
	}
	return fn()
}

func (d *Device) currentLocked() string {
	if st, ok := d.set.stuck[d.udid]; ok {
		return st
	}
	return d.state
}

func (d *Device) setStateLocked(state string) {
	d.state = state
	switch state {
	case backend.StateBooted, backend.StateBooting:
		if d.pid < 0 {
			d.pid = d.set.allocPIDLocked()
		}
	default:
		d.pid = -1
	}
}
