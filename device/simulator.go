package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/device-bridge/ffi"
)

// Process is a running process on the simulated device.
type Process struct {
	Name     string `toml:"name"`
	BundleID string `toml:"bundle_id"`
	PID      int64  `toml:"pid"`
}

// App is an installed application.
type App struct {
	BundleID string `toml:"bundle_id"`
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	// Type is "User" or "System".
	Type string `toml:"type"`
}

// Service is a lockdown service advertised over RSD.
type Service struct {
	Name        string `toml:"name"`
	Entitlement string `toml:"entitlement"`
	Port        int64  `toml:"port"`
}

// Config describes the simulated device.
type Config struct {
	Name      string
	UDID      string
	Processes []Process
	Apps      []App
	Services  []Service
	// Latency delays every connect operation, so requests stay executing
	// long enough to be observed or torn down.
	Latency time.Duration
}

// DefaultConfig returns a small device with a few processes, apps and
// services.
func DefaultConfig() Config {
	return Config{
		Name: "Simulated iPhone",
		UDID: "00008110-0000000000000000",
		Processes: []Process{
			{PID: 1, Name: "launchd"},
			{PID: 101, Name: "SpringBoard", BundleID: "com.apple.springboard"},
			{PID: 202, Name: "MobileSafari", BundleID: "com.apple.mobilesafari"},
		},
		Apps: []App{
			{BundleID: "com.apple.mobilesafari", Name: "Safari", Version: "18.0", Type: "System"},
			{BundleID: "com.apple.Preferences", Name: "Settings", Version: "18.0", Type: "System"},
			{BundleID: "com.example.demo", Name: "Demo", Version: "1.2.3", Type: "User"},
		},
		Services: []Service{
			{Name: "com.apple.instruments.dtservicehub", Port: 53001, Entitlement: "com.apple.private.dt.instruments"},
			{Name: "com.apple.afc.shim.remote", Port: 53002},
			{Name: "com.apple.mobile.installation_proxy.shim.remote", Port: 53003},
			{Name: "com.apple.springboardservices.shim.remote", Port: 53004},
		},
	}
}

const (
	rsdPort         = 58783
	protocolVersion = 2
)

// native is embedded by every object handed to the bridge. Releasing an
// object twice panics, the way a double free crashes a real native layer.
type native struct {
	kind  string
	freed atomic.Bool
}

func (n *native) base() *native { return n }

type object interface {
	base() *native
}

type coreDevice struct {
	native
}

type adapter struct {
	native
	provider *coreDevice
}

type socket struct {
	native
	port int64
}

type handshake struct {
	native
	uuid string
}

type remoteServer struct {
	native
}

type processControl struct {
	native
}

type locationSimulation struct {
	native
}

type afcClient struct {
	native
}

type afcFile struct {
	native
	path   string
	mode   string
	offset int
}

type springboardClient struct {
	native
}

type installationProxy struct {
	native
}

type fsNode struct {
	modified time.Time
	data     []byte
	dir      bool
}

// Simulator is an in-process stand-in for the native device layer. It
// keeps device state (processes, file system, location) and tracks every
// native object it has handed out until it is released.
type Simulator struct {
	cfg      Config
	log      *zap.Logger
	procs    map[int64]Process
	fs       map[string]*fsNode
	live     map[object]struct{}
	location *[2]float64
	nextPID  int64
	mu       sync.Mutex
}

// New creates a simulator. log may be nil.
func New(cfg Config, log *zap.Logger) *Simulator {
	if log == nil {
		log = Logger()
	}
	s := &Simulator{
		cfg:     cfg,
		log:     log,
		procs:   make(map[int64]Process),
		fs:      map[string]*fsNode{"/": {dir: true, modified: time.Now()}},
		live:    make(map[object]struct{}),
		nextPID: 1000,
	}
	for _, p := range cfg.Processes {
		s.procs[p.PID] = p
		if p.PID >= s.nextPID {
			s.nextPID = p.PID + 1
		}
	}
	return s
}

// Config returns the device description.
func (s *Simulator) Config() Config {
	return s.cfg
}

func (s *Simulator) track(obj object, kind string) object {
	obj.base().kind = kind
	s.mu.Lock()
	s.live[obj] = struct{}{}
	s.mu.Unlock()
	return obj
}

// Release destroys a native object. It is the release function paired with
// every handle the simulator produces.
func (s *Simulator) Release(v any) {
	obj, ok := v.(object)
	if !ok {
		panic(fmt.Sprintf("release of foreign value %T", v))
	}
	if !obj.base().freed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("double free of %s", obj.base().kind))
	}
	s.mu.Lock()
	delete(s.live, obj)
	s.mu.Unlock()

	if a, ok := obj.(*adapter); ok && a.provider != nil {
		s.Release(a.provider)
	}
	s.log.Debug("native object released", zap.String("kind", obj.base().kind))
}

// Live returns the number of native objects not yet released.
func (s *Simulator) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// LiveKinds returns the kinds of unreleased native objects, sorted.
func (s *Simulator) LiveKinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.live))
	for obj := range s.live {
		kinds = append(kinds, obj.base().kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Processes returns the running processes ordered by PID.
func (s *Simulator) Processes() []Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Process, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Location returns the simulated location, if one is set.
func (s *Simulator) Location() (lat, lon float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location == nil {
		return 0, 0, false
	}
	return s.location[0], s.location[1], true
}

// wait applies the configured latency, giving up if ctx ends first.
func (s *Simulator) wait(ctx context.Context) ffi.ForeignError {
	if s.cfg.Latency <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ffi.NewError(CodeCancelled, "operation cancelled")
	}
}

// usable fails with Disconnected if obj has already been released, which
// happens when a handle is force-released while an operation still runs.
func usable(obj object) ffi.ForeignError {
	if obj == nil || obj.base().freed.Load() {
		return ffi.NewError(CodeDisconnected, "connection closed")
	}
	return nil
}

func (s *Simulator) kill(pid int64) ffi.ForeignError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procs[pid]; !ok {
		return ffi.NewError(CodeProcessNotFound, "no process with pid %d", pid)
	}
	delete(s.procs, pid)
	return nil
}

func (s *Simulator) launch(bundleID string, killExisting bool) (int64, ffi.ForeignError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var app *App
	for i := range s.cfg.Apps {
		if s.cfg.Apps[i].BundleID == bundleID {
			app = &s.cfg.Apps[i]
			break
		}
	}
	if app == nil {
		return 0, ffi.NewError(CodeAppNotFound, "no app with bundle id %s", bundleID)
	}

	for pid, p := range s.procs {
		if p.BundleID != bundleID {
			continue
		}
		if !killExisting {
			return 0, ffi.NewError(CodeProcessAlreadyRunning, "%s is already running as %d", bundleID, pid)
		}
		delete(s.procs, pid)
	}

	pid := s.nextPID
	s.nextPID++
	s.procs[pid] = Process{PID: pid, Name: app.Name, BundleID: bundleID}
	return pid, nil
}

func (s *Simulator) setLocation(lat, lon float64) ffi.ForeignError {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ffi.NewError(CodeInvalidArgument, "coordinate %f,%f out of range", lat, lon)
	}
	s.mu.Lock()
	s.location = &[2]float64{lat, lon}
	s.mu.Unlock()
	return nil
}

func (s *Simulator) clearLocation() {
	s.mu.Lock()
	s.location = nil
	s.mu.Unlock()
}

func (s *Simulator) service(name string) (Service, bool) {
	for _, svc := range s.cfg.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

func (s *Simulator) app(bundleID string) (App, bool) {
	for _, a := range s.cfg.Apps {
		if a.BundleID == bundleID {
			return a, true
		}
	}
	return App{}, false
}
