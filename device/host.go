package device

import (
	"context"
	"fmt"
	"time"

	"github.com/wippyai/device-bridge/dispatch"
	"github.com/wippyai/device-bridge/ffi"
	"github.com/wippyai/device-bridge/resource"
)

// Handle types of device objects.
const (
	TypeCoreDevice resource.Type = iota + 1
	TypeAdapter
	TypeSocket
	TypeHandshake
	TypeRemoteServer
	TypeProcessControl
	TypeLocationSimulation
	TypeAFCClient
	TypeAFCFile
	TypeSpringboard
	TypeInstallationProxy
)

var typeNames = map[resource.Type]string{
	TypeCoreDevice:         "coreDeviceProxy",
	TypeAdapter:            "adapter",
	TypeSocket:             "socket",
	TypeHandshake:          "rsdHandshake",
	TypeRemoteServer:       "remoteServer",
	TypeProcessControl:     "processControl",
	TypeLocationSimulation: "locationSimulation",
	TypeAFCClient:          "afcClient",
	TypeAFCFile:            "afcFile",
	TypeSpringboard:        "springboardServices",
	TypeInstallationProxy:  "installationProxy",
}

// TypeName returns a readable name for a device handle type.
func TypeName(t resource.Type) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", t)
}

// Namespace of the device operations.
const Namespace = "device"

// Host exposes a Simulator as bridge operations.
type Host struct {
	sim *Simulator
}

func NewHost(sim *Simulator) *Host {
	return &Host{sim: sim}
}

func (h *Host) Namespace() string { return Namespace }

type syncFunc = func(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError)

func op(name, doc string, invoke dispatch.NativeFunc, params ...dispatch.ParamSpec) *dispatch.Operation {
	return &dispatch.Operation{Name: name, Doc: doc, Params: params, Invoke: invoke}
}

func (h *Host) Operations() []*dispatch.Operation {
	str := dispatch.StringParam
	handle := dispatch.HandleParam

	return []*dispatch.Operation{
		op("listProcesses", "List running processes.",
			dispatch.Sync(h.listProcesses)),
		op("killProcess", "Kill a process by pid.",
			dispatch.Sync(h.killProcess), dispatch.IntParam("pid")),

		op("coreDeviceProxyConnect", "Connect to the device's core device proxy.",
			dispatch.Async(h.coreDeviceProxyConnect)),
		op("coreDeviceProxyGetServerRsdPort", "Return the RSD port of the proxy.",
			dispatch.Sync(h.coreDeviceProxyGetServerRsdPort), handle("provider", TypeCoreDevice)),
		op("coreDeviceProxyCreateTcpAdapter", "Turn the proxy into a TCP adapter. Consumes the proxy.",
			dispatch.Sync(h.coreDeviceProxyCreateTcpAdapter), dispatch.ConsumedHandleParam("provider", TypeCoreDevice)),
		op("adapterConnect", "Open a stream to a device port.",
			dispatch.Async(h.adapterConnect), handle("adapter", TypeAdapter), dispatch.IntParam("port")),

		op("rsdHandshakeNew", "Perform the RSD handshake on a socket. Consumes the socket.",
			dispatch.Async(h.rsdHandshakeNew), dispatch.ConsumedHandleParam("socket", TypeSocket)),
		op("rsdGetProtocolVersion", "Return the RSD protocol version.",
			dispatch.Sync(h.rsdGetProtocolVersion), handle("handshake", TypeHandshake)),
		op("rsdGetUuid", "Return the device UUID.",
			dispatch.Sync(h.rsdGetUUID), handle("handshake", TypeHandshake)),
		op("rsdGetServices", "List advertised services.",
			dispatch.Sync(h.rsdGetServices), handle("handshake", TypeHandshake)),
		op("rsdServiceAvailable", "Report whether a service is advertised.",
			dispatch.Sync(h.rsdServiceAvailable), handle("handshake", TypeHandshake), str("service")),
		op("rsdGetServiceInfo", "Describe one advertised service.",
			dispatch.Sync(h.rsdGetServiceInfo), handle("handshake", TypeHandshake), str("service")),

		op("remoteServerConnectRsd", "Connect to the remote server over RSD.",
			dispatch.Async(h.remoteServerConnectRsd), handle("adapter", TypeAdapter), handle("handshake", TypeHandshake)),
		op("processControlNew", "Create a process control client.",
			dispatch.Sync(h.processControlNew), handle("server", TypeRemoteServer)),
		op("processControlLaunchApp", "Launch an app and return its pid.",
			dispatch.Sync(h.processControlLaunchApp),
			handle("processControl", TypeProcessControl),
			str("bundleId"),
			dispatch.MapParam("env").Opt(),
			dispatch.ListParam("arguments").Opt(),
			dispatch.BoolParam("startSuspended").Opt(),
			dispatch.BoolParam("killExisting").Opt()),
		op("processControlKillApp", "Kill a launched app.",
			dispatch.Sync(h.processControlKillApp), handle("processControl", TypeProcessControl), dispatch.IntParam("pid")),
		op("processControlDisableMemoryLimit", "Lift the memory limit of a process.",
			dispatch.Sync(h.processControlDisableMemoryLimit), handle("processControl", TypeProcessControl), dispatch.IntParam("pid")),

		op("locationSimulationNew", "Create a location simulation client.",
			dispatch.Sync(h.locationSimulationNew), handle("server", TypeRemoteServer)),
		op("locationSimulationSet", "Set the simulated location.",
			dispatch.Sync(h.locationSimulationSet),
			handle("location", TypeLocationSimulation),
			dispatch.NumberParam("latitude"),
			dispatch.NumberParam("longitude")),
		op("locationSimulationClear", "Clear the simulated location.",
			dispatch.Sync(h.locationSimulationClear), handle("location", TypeLocationSimulation)),

		op("afcClientConnect", "Connect to the AFC service.",
			dispatch.Async(h.afcClientConnect)),
		op("afcListDirectory", "List a directory.",
			dispatch.Sync(h.afcListDirectory), handle("client", TypeAFCClient), str("path")),
		op("afcMakeDirectory", "Create a directory.",
			dispatch.Sync(h.afcMakeDirectory), handle("client", TypeAFCClient), str("path")),
		op("afcRemovePath", "Remove a file or empty directory.",
			dispatch.Sync(h.afcRemovePath), handle("client", TypeAFCClient), str("path")),
		op("afcRemovePathAndContents", "Remove a path recursively.",
			dispatch.Sync(h.afcRemovePathAndContents), handle("client", TypeAFCClient), str("path")),
		op("afcRenamePath", "Rename a path.",
			dispatch.Sync(h.afcRenamePath), handle("client", TypeAFCClient), str("source"), str("target")),
		op("afcGetFileInfo", "Describe a path.",
			dispatch.Sync(h.afcGetFileInfo), handle("client", TypeAFCClient), str("path")),
		op("afcFileOpen", "Open a file (modes r, r+, w, w+, a, a+).",
			dispatch.Sync(h.afcFileOpen), handle("client", TypeAFCClient), str("path"), str("mode").Opt()),
		op("afcFileRead", "Read the rest of a file into a buffer.",
			dispatch.Sync(h.afcFileRead), handle("file", TypeAFCFile)),
		op("afcFileWrite", "Write a buffer to a file.",
			dispatch.Sync(h.afcFileWrite), handle("file", TypeAFCFile), dispatch.BufferParam("data")),
		op("afcFileClose", "Close a file. Consumes the file handle.",
			dispatch.Sync(h.afcFileClose), dispatch.ConsumedHandleParam("file", TypeAFCFile)),

		op("springboardServicesConnect", "Connect to springboard services.",
			dispatch.Async(h.springboardServicesConnect)),
		op("springboardGetIcon", "Fetch an app icon as PNG bytes.",
			dispatch.Sync(h.springboardGetIcon), handle("client", TypeSpringboard), str("bundleId")),

		op("installationProxyConnect", "Connect to the installation proxy.",
			dispatch.Async(h.installationProxyConnect)),
		op("installationProxyGetApps", "List installed apps, optionally filtered.",
			dispatch.Sync(h.installationProxyGetApps),
			handle("client", TypeInstallationProxy),
			str("applicationType").Opt(),
			dispatch.ListParam("bundleIds").Opt()),
	}
}

func (h *Host) handle(obj object, typ resource.Type) dispatch.NewHandle {
	h.sim.track(obj, TypeName(typ))
	return dispatch.NewHandle{Native: obj, Release: h.sim.Release, Type: typ}
}

func (h *Host) listProcesses(context.Context, *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	procs := h.sim.Processes()
	out := make([]any, len(procs))
	for i, p := range procs {
		out[i] = map[string]any{"pid": p.PID, "name": p.Name, "bundleId": p.BundleID}
	}
	return dispatch.Result{"processes": out}, nil
}

func (h *Host) killProcess(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	if ferr := h.sim.kill(call.Int(0)); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"killed": true}, nil
}

func (h *Host) coreDeviceProxyConnect(ctx context.Context, _ *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	if ferr := h.sim.wait(ctx); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"provider": h.handle(&coreDevice{}, TypeCoreDevice)}, nil
}

func (h *Host) coreDeviceProxyGetServerRsdPort(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	p, _ := dispatch.NativeAs[*coreDevice](call, 0)
	if ferr := usable(p); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"port": int64(rsdPort)}, nil
}

func (h *Host) coreDeviceProxyCreateTcpAdapter(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	p, _ := dispatch.NativeAs[*coreDevice](call, 0)
	if ferr := usable(p); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"adapter": h.handle(&adapter{provider: p}, TypeAdapter)}, nil
}

func (h *Host) adapterConnect(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	a, _ := dispatch.NativeAs[*adapter](call, 0)
	if ferr := usable(a); ferr != nil {
		return nil, ferr
	}
	port := call.Int(1)
	if port != rsdPort {
		if _, ok := h.servicePort(port); !ok {
			return nil, ffi.NewError(CodeSocket, "connection refused on port %d", port)
		}
	}
	if ferr := h.sim.wait(ctx); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"socket": h.handle(&socket{port: port}, TypeSocket)}, nil
}

func (h *Host) servicePort(port int64) (Service, bool) {
	for _, svc := range h.sim.cfg.Services {
		if svc.Port == port {
			return svc, true
		}
	}
	return Service{}, false
}

func (h *Host) rsdHandshakeNew(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	sock, _ := dispatch.NativeAs[*socket](call, 0)
	if ferr := usable(sock); ferr != nil {
		return nil, ferr
	}
	// The handshake owns the socket from here on.
	h.sim.Release(sock)
	if sock.port != rsdPort {
		return nil, ffi.NewError(CodeUnexpectedResponse, "port %d does not speak RSD", sock.port)
	}
	if ferr := h.sim.wait(ctx); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"handshake": h.handle(&handshake{uuid: h.sim.cfg.UDID}, TypeHandshake)}, nil
}

func (h *Host) rsdGetProtocolVersion(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	hs, _ := dispatch.NativeAs[*handshake](call, 0)
	if ferr := usable(hs); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"version": int64(protocolVersion)}, nil
}

func (h *Host) rsdGetUUID(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	hs, _ := dispatch.NativeAs[*handshake](call, 0)
	if ferr := usable(hs); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"uuid": hs.uuid}, nil
}

func serviceMap(svc Service) map[string]any {
	return map[string]any{
		"name":        svc.Name,
		"port":        svc.Port,
		"entitlement": svc.Entitlement,
	}
}

func (h *Host) rsdGetServices(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	hs, _ := dispatch.NativeAs[*handshake](call, 0)
	if ferr := usable(hs); ferr != nil {
		return nil, ferr
	}
	out := make([]any, len(h.sim.cfg.Services))
	for i, svc := range h.sim.cfg.Services {
		out[i] = serviceMap(svc)
	}
	return dispatch.Result{"services": out}, nil
}

func (h *Host) rsdServiceAvailable(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	hs, _ := dispatch.NativeAs[*handshake](call, 0)
	if ferr := usable(hs); ferr != nil {
		return nil, ferr
	}
	_, ok := h.sim.service(call.String(1))
	return dispatch.Result{"available": ok}, nil
}

func (h *Host) rsdGetServiceInfo(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	hs, _ := dispatch.NativeAs[*handshake](call, 0)
	if ferr := usable(hs); ferr != nil {
		return nil, ferr
	}
	svc, ok := h.sim.service(call.String(1))
	if !ok {
		return nil, ffi.NewError(CodeServiceNotFound, "service %s is not advertised", call.String(1))
	}
	return dispatch.Result(serviceMap(svc)), nil
}

func (h *Host) remoteServerConnectRsd(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	a, _ := dispatch.NativeAs[*adapter](call, 0)
	hs, _ := dispatch.NativeAs[*handshake](call, 1)
	if ferr := usable(a); ferr != nil {
		return nil, ferr
	}
	if ferr := usable(hs); ferr != nil {
		return nil, ferr
	}
	if _, ok := h.sim.service("com.apple.instruments.dtservicehub"); !ok {
		return nil, ffi.NewError(CodeServiceNotFound, "instruments service is not advertised")
	}
	if ferr := h.sim.wait(ctx); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"server": h.handle(&remoteServer{}, TypeRemoteServer)}, nil
}

func (h *Host) processControlNew(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	srv, _ := dispatch.NativeAs[*remoteServer](call, 0)
	if ferr := usable(srv); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"processControl": h.handle(&processControl{}, TypeProcessControl)}, nil
}

func (h *Host) processControlLaunchApp(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	pc, _ := dispatch.NativeAs[*processControl](call, 0)
	if ferr := usable(pc); ferr != nil {
		return nil, ferr
	}
	for k, v := range call.Map(2) {
		if _, ok := v.(string); !ok {
			return nil, ffi.NewError(CodeInvalidArgument, "environment value %s is not a string", k)
		}
	}
	for i, v := range call.List(3) {
		if _, ok := v.(string); !ok {
			return nil, ffi.NewError(CodeInvalidArgument, "argument %d is not a string", i)
		}
	}
	pid, ferr := h.sim.launch(call.String(1), call.Bool(5))
	if ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"pid": pid, "suspended": call.Bool(4)}, nil
}

func (h *Host) processControlKillApp(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	pc, _ := dispatch.NativeAs[*processControl](call, 0)
	if ferr := usable(pc); ferr != nil {
		return nil, ferr
	}
	if ferr := h.sim.kill(call.Int(1)); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{}, nil
}

func (h *Host) processControlDisableMemoryLimit(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	pc, _ := dispatch.NativeAs[*processControl](call, 0)
	if ferr := usable(pc); ferr != nil {
		return nil, ferr
	}
	pid := call.Int(1)
	for _, p := range h.sim.Processes() {
		if p.PID == pid {
			return dispatch.Result{}, nil
		}
	}
	return nil, ffi.NewError(CodeProcessNotFound, "no process with pid %d", pid)
}

func (h *Host) locationSimulationNew(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	srv, _ := dispatch.NativeAs[*remoteServer](call, 0)
	if ferr := usable(srv); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"location": h.handle(&locationSimulation{}, TypeLocationSimulation)}, nil
}

func (h *Host) locationSimulationSet(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	loc, _ := dispatch.NativeAs[*locationSimulation](call, 0)
	if ferr := usable(loc); ferr != nil {
		return nil, ferr
	}
	if ferr := h.sim.setLocation(call.Number(1), call.Number(2)); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{}, nil
}

func (h *Host) locationSimulationClear(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	loc, _ := dispatch.NativeAs[*locationSimulation](call, 0)
	if ferr := usable(loc); ferr != nil {
		return nil, ferr
	}
	h.sim.clearLocation()
	return dispatch.Result{}, nil
}

func (h *Host) afcClientConnect(ctx context.Context, _ *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	if ferr := h.sim.wait(ctx); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"client": h.handle(&afcClient{}, TypeAFCClient)}, nil
}

// afc wraps an AFC operation with the client liveness check every one of
// them needs.
func (h *Host) afc(fn func(call *dispatch.Call) (dispatch.Result, ffi.ForeignError)) syncFunc {
	return func(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
		c, _ := dispatch.NativeAs[*afcClient](call, 0)
		if ferr := usable(c); ferr != nil {
			return nil, ferr
		}
		return fn(call)
	}
}

func (h *Host) afcListDirectory(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	return h.afc(func(call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
		names, ferr := h.sim.listDirectory(call.String(1))
		if ferr != nil {
			return nil, ferr
		}
		entries := make([]any, len(names))
		for i, n := range names {
			entries[i] = n
		}
		return dispatch.Result{"entries": entries}, nil
	})(ctx, call)
}

func (h *Host) afcMakeDirectory(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	return h.afc(func(call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
		return dispatch.Result{}, h.sim.makeDirectory(call.String(1))
	})(ctx, call)
}

func (h *Host) afcRemovePath(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	return h.afc(func(call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
		return dispatch.Result{}, h.sim.removePath(call.String(1), false)
	})(ctx, call)
}

func (h *Host) afcRemovePathAndContents(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	return h.afc(func(call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
		return dispatch.Result{}, h.sim.removePath(call.String(1), true)
	})(ctx, call)
}

func (h *Host) afcRenamePath(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	return h.afc(func(call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
		return dispatch.Result{}, h.sim.renamePath(call.String(1), call.String(2))
	})(ctx, call)
}

func (h *Host) afcGetFileInfo(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	return h.afc(func(call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
		info, ferr := h.sim.fileInfo(call.String(1))
		if ferr != nil {
			return nil, ferr
		}
		return dispatch.Result{
			"size":     info.Size,
			"type":     info.Type,
			"links":    info.Links,
			"modified": info.Modified.UTC().Format(time.RFC3339),
		}, nil
	})(ctx, call)
}

func (h *Host) afcFileOpen(ctx context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	return h.afc(func(call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
		mode := call.String(2)
		if mode == "" {
			mode = "r"
		}
		f, ferr := h.sim.openFile(call.String(1), mode)
		if ferr != nil {
			return nil, ferr
		}
		return dispatch.Result{"file": h.handle(f, TypeAFCFile)}, nil
	})(ctx, call)
}

func (h *Host) afcFileRead(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	f, _ := dispatch.NativeAs[*afcFile](call, 0)
	if ferr := usable(f); ferr != nil {
		return nil, ferr
	}
	data, ferr := h.sim.readFile(f)
	if ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"data": dispatch.NewBuffer{Data: data}, "size": int64(len(data))}, nil
}

func (h *Host) afcFileWrite(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	f, _ := dispatch.NativeAs[*afcFile](call, 0)
	if ferr := usable(f); ferr != nil {
		return nil, ferr
	}
	n, ferr := h.sim.writeFile(f, call.Bytes(1))
	if ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"written": int64(n)}, nil
}

func (h *Host) afcFileClose(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	f, _ := dispatch.NativeAs[*afcFile](call, 0)
	if ferr := usable(f); ferr != nil {
		return nil, ferr
	}
	h.sim.Release(f)
	return dispatch.Result{}, nil
}

func (h *Host) springboardServicesConnect(ctx context.Context, _ *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	if ferr := h.sim.wait(ctx); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"client": h.handle(&springboardClient{}, TypeSpringboard)}, nil
}

func (h *Host) springboardGetIcon(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	c, _ := dispatch.NativeAs[*springboardClient](call, 0)
	if ferr := usable(c); ferr != nil {
		return nil, ferr
	}
	app, ok := h.sim.app(call.String(1))
	if !ok {
		return nil, ffi.NewError(CodeAppNotFound, "no app with bundle id %s", call.String(1))
	}
	return dispatch.Result{"icon": dispatch.NewBuffer{Data: iconPNG(app.BundleID)}}, nil
}

func (h *Host) installationProxyConnect(ctx context.Context, _ *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	if ferr := h.sim.wait(ctx); ferr != nil {
		return nil, ferr
	}
	return dispatch.Result{"client": h.handle(&installationProxy{}, TypeInstallationProxy)}, nil
}

func (h *Host) installationProxyGetApps(_ context.Context, call *dispatch.Call) (dispatch.Result, ffi.ForeignError) {
	c, _ := dispatch.NativeAs[*installationProxy](call, 0)
	if ferr := usable(c); ferr != nil {
		return nil, ferr
	}

	appType := call.String(1)
	if appType != "" && appType != "Any" && appType != "User" && appType != "System" {
		return nil, ffi.NewError(CodeInvalidArgument, "unknown application type %q", appType)
	}
	var only map[string]bool
	if ids := call.List(2); len(ids) > 0 {
		only = make(map[string]bool, len(ids))
		for _, id := range ids {
			if s, ok := id.(string); ok {
				only[s] = true
			}
		}
	}

	var apps []any
	for _, a := range h.sim.cfg.Apps {
		if appType != "" && appType != "Any" && a.Type != appType {
			continue
		}
		if only != nil && !only[a.BundleID] {
			continue
		}
		apps = append(apps, map[string]any{
			"CFBundleIdentifier":         a.BundleID,
			"CFBundleDisplayName":        a.Name,
			"CFBundleShortVersionString": a.Version,
			"ApplicationType":            a.Type,
		})
	}
	if apps == nil {
		apps = []any{}
	}
	return dispatch.Result{"apps": apps}, nil
}
