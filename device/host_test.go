package device

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/device-bridge/bridge"
	"github.com/wippyai/device-bridge/dispatch"
	"github.com/wippyai/device-bridge/errors"
)

func newTestDevice(t *testing.T, cfg Config) (*bridge.Bridge, *Simulator) {
	t.Helper()
	sim := New(cfg, nil)
	b := bridge.New(bridge.WithCodeNamer(CodeName))
	if err := b.RegisterHost(NewHost(sim)); err != nil {
		t.Fatalf("RegisterHost failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, sim
}

func call(t *testing.T, b *bridge.Bridge, op string, params ...any) map[string]any {
	t.Helper()
	res, err := b.Call(context.Background(), op, params...)
	if err != nil {
		t.Fatalf("%s failed: %v", op, err)
	}
	return res
}

func ref(t *testing.T, res map[string]any, key string) dispatch.Ref {
	t.Helper()
	r, ok := res[key].(dispatch.Ref)
	if !ok {
		t.Fatalf("Expected reference at %q, got %#v", key, res[key])
	}
	return r
}

func nativeCode(t *testing.T, err error) int32 {
	t.Helper()
	var e *errors.Error
	if !stderrors.As(err, &e) || !e.HasCode {
		t.Fatalf("Expected native failure with code, got %v", err)
	}
	return e.Code
}

// connectRSD walks the tunnel setup up to a handshake and returns the
// adapter and handshake references.
func connectRSD(t *testing.T, b *bridge.Bridge) (adapter, hs dispatch.Ref) {
	t.Helper()
	provider := ref(t, call(t, b, "coreDeviceProxyConnect"), "provider")
	port := call(t, b, "coreDeviceProxyGetServerRsdPort", provider)["port"]
	adapter = ref(t, call(t, b, "coreDeviceProxyCreateTcpAdapter", provider), "adapter")
	sock := ref(t, call(t, b, "adapterConnect", adapter, port), "socket")
	hs = ref(t, call(t, b, "rsdHandshakeNew", sock), "handshake")
	return adapter, hs
}

func TestHost_LaunchFlow(t *testing.T) {
	b, sim := newTestDevice(t, DefaultConfig())

	adapter, hs := connectRSD(t, b)
	if uuid := call(t, b, "rsdGetUuid", hs)["uuid"]; uuid != sim.Config().UDID {
		t.Fatalf("Expected uuid %s, got %v", sim.Config().UDID, uuid)
	}
	if v := call(t, b, "rsdGetProtocolVersion", hs)["version"]; v != int64(protocolVersion) {
		t.Fatalf("Expected protocol version %d, got %v", protocolVersion, v)
	}

	server := ref(t, call(t, b, "remoteServerConnectRsd", adapter, hs), "server")
	pc := ref(t, call(t, b, "processControlNew", server), "processControl")

	res := call(t, b, "processControlLaunchApp", pc, "com.example.demo",
		map[string]any{"DEBUG": "1"}, []any{"--verbose"}, false, false)
	pid := res["pid"].(int64)

	found := false
	for _, p := range sim.Processes() {
		if p.PID == pid && p.BundleID == "com.example.demo" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Expected launched process %d", pid)
	}

	_, err := b.Call(context.Background(), "processControlLaunchApp", pc, "com.example.demo")
	if nativeCode(t, err) != CodeProcessAlreadyRunning {
		t.Fatalf("Expected ProcessAlreadyRunning, got %v", err)
	}
	res = call(t, b, "processControlLaunchApp", pc, "com.example.demo", nil, nil, nil, true)
	if res["pid"].(int64) == pid {
		t.Fatal("killExisting must start a new process")
	}

	call(t, b, "processControlKillApp", pc, res["pid"])
	if len(sim.Processes()) != len(DefaultConfig().Processes) {
		t.Fatalf("Expected original processes only, got %v", sim.Processes())
	}
}

func TestHost_ConsumedProvider(t *testing.T) {
	b, sim := newTestDevice(t, DefaultConfig())

	provider := ref(t, call(t, b, "coreDeviceProxyConnect"), "provider")
	call(t, b, "coreDeviceProxyCreateTcpAdapter", provider)

	_, err := b.Call(context.Background(), "coreDeviceProxyGetServerRsdPort", provider)
	if errors.KindOf(err) != errors.KindStaleReference {
		t.Fatalf("Expected StaleReference for consumed provider, got %v", err)
	}
	if freed := call(t, b, "freeHandle", provider)["freed"]; freed != false {
		t.Fatal("consumed provider must not be freed again")
	}
	if got := sim.LiveKinds(); len(got) != 2 {
		t.Fatalf("Expected adapter and provider alive, got %v", got)
	}
}

func TestHost_NonRSDPort(t *testing.T) {
	b, _ := newTestDevice(t, DefaultConfig())

	provider := ref(t, call(t, b, "coreDeviceProxyConnect"), "provider")
	adapter := ref(t, call(t, b, "coreDeviceProxyCreateTcpAdapter", provider), "adapter")

	_, err := b.Call(context.Background(), "adapterConnect", adapter, 1)
	if nativeCode(t, err) != CodeSocket {
		t.Fatalf("Expected Socket error, got %v", err)
	}

	sock := ref(t, call(t, b, "adapterConnect", adapter, 53002), "socket")
	_, err = b.Call(context.Background(), "rsdHandshakeNew", sock)
	if nativeCode(t, err) != CodeUnexpectedResponse {
		t.Fatalf("Expected UnexpectedResponse, got %v", err)
	}
	if b.Handles().Contains(sock.ID) {
		t.Fatal("socket must be consumed even when the handshake fails")
	}
}

func TestHost_NativeFailureMessage(t *testing.T) {
	b, _ := newTestDevice(t, DefaultConfig())

	_, err := b.Call(context.Background(), "killProcess", 9999)
	f := errors.AsFailure(err)
	if f.Kind != errors.KindNativeFailure {
		t.Fatalf("Expected NativeFailure, got %+v", f)
	}
	if f.Message != "killProcess: ProcessNotFound: no process with pid 9999" {
		t.Fatalf("unexpected message %q", f.Message)
	}
	if f.Code == nil || *f.Code != CodeProcessNotFound {
		t.Fatalf("Expected code %d, got %v", CodeProcessNotFound, f.Code)
	}
}

func TestHost_AFC(t *testing.T) {
	b, sim := newTestDevice(t, DefaultConfig())
	sim.WriteFile("/Downloads/hello.txt", []byte("hello"))

	client := ref(t, call(t, b, "afcClientConnect"), "client")

	entries := call(t, b, "afcListDirectory", client, "/Downloads")["entries"].([]any)
	if len(entries) != 3 || entries[2] != "hello.txt" {
		t.Fatalf("unexpected entries %v", entries)
	}

	info := call(t, b, "afcGetFileInfo", client, "/Downloads/hello.txt")
	if info["size"] != int64(5) || info["type"] != "S_IFREG" {
		t.Fatalf("unexpected info %v", info)
	}

	file := ref(t, call(t, b, "afcFileOpen", client, "/Downloads/hello.txt"), "file")
	data := ref(t, call(t, b, "afcFileRead", file), "data")
	if text := call(t, b, "bufferRead", data)["text"]; text != "hello" {
		t.Fatalf("Expected hello, got %v", text)
	}
	call(t, b, "afcFileClose", file)
	if sim.Live() != 1 {
		t.Fatalf("Expected only the client alive, got %v", sim.LiveKinds())
	}
	_, err := b.Call(context.Background(), "afcFileRead", file)
	if errors.KindOf(err) != errors.KindStaleReference {
		t.Fatalf("Expected StaleReference after close, got %v", err)
	}

	buf := ref(t, call(t, b, "bufferFromString", "world"), "buffer")
	out := ref(t, call(t, b, "afcFileOpen", client, "/Downloads/out.txt", "w"), "file")
	if n := call(t, b, "afcFileWrite", out, buf)["written"]; n != int64(5) {
		t.Fatalf("Expected 5 bytes written, got %v", n)
	}
	call(t, b, "afcFileClose", out)
	if got, _ := sim.ReadFile("/Downloads/out.txt"); string(got) != "world" {
		t.Fatalf("Expected world, got %q", got)
	}

	call(t, b, "afcMakeDirectory", client, "/Downloads/sub")
	_, err = b.Call(context.Background(), "afcRemovePath", client, "/Downloads")
	if nativeCode(t, err) != CodeAfcDirNotEmpty {
		t.Fatalf("Expected AfcDirNotEmpty, got %v", err)
	}
	call(t, b, "afcRenamePath", client, "/Downloads", "/Archive")
	if _, ok := sim.ReadFile("/Archive/out.txt"); !ok {
		t.Fatal("rename must move children")
	}
	call(t, b, "afcRemovePathAndContents", client, "/Archive")
	_, err = b.Call(context.Background(), "afcGetFileInfo", client, "/Archive")
	if nativeCode(t, err) != CodeAfcObjectNotFound {
		t.Fatalf("Expected AfcObjectNotFound, got %v", err)
	}
}

func TestHost_AFCOpenModes(t *testing.T) {
	b, sim := newTestDevice(t, DefaultConfig())
	sim.WriteFile("/log.txt", []byte("ab"))
	client := ref(t, call(t, b, "afcClientConnect"), "client")

	tests := []struct {
		name string
		path string
		mode string
		code int32
	}{
		{"missing read", "/nope.txt", "r", CodeAfcObjectNotFound},
		{"bad mode", "/log.txt", "x", CodeInvalidArgument},
		{"directory", "/", "r", CodeAfcObjectIsDir},
		{"missing parent", "/a/b.txt", "w", CodeAfcObjectNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Call(context.Background(), "afcFileOpen", client, tt.path, tt.mode)
			if nativeCode(t, err) != tt.code {
				t.Fatalf("Expected code %d, got %v", tt.code, err)
			}
		})
	}

	file := ref(t, call(t, b, "afcFileOpen", client, "/log.txt", "a"), "file")
	buf := ref(t, call(t, b, "bufferFromString", "c"), "buffer")
	call(t, b, "afcFileWrite", file, buf)
	if got, _ := sim.ReadFile("/log.txt"); string(got) != "abc" {
		t.Fatalf("Expected append, got %q", got)
	}
	_, err := b.Call(context.Background(), "afcFileRead", file)
	if nativeCode(t, err) != CodeAfcPermissionDenied {
		t.Fatalf("Expected AfcPermissionDenied, got %v", err)
	}
}

func TestHost_LocationSimulation(t *testing.T) {
	b, sim := newTestDevice(t, DefaultConfig())

	adapter, hs := connectRSD(t, b)
	server := ref(t, call(t, b, "remoteServerConnectRsd", adapter, hs), "server")
	loc := ref(t, call(t, b, "locationSimulationNew", server), "location")

	call(t, b, "locationSimulationSet", loc, 37.33, -122.03)
	if lat, lon, ok := sim.Location(); !ok || lat != 37.33 || lon != -122.03 {
		t.Fatalf("unexpected location %v %v %v", lat, lon, ok)
	}
	_, err := b.Call(context.Background(), "locationSimulationSet", loc, 91, 0)
	if nativeCode(t, err) != CodeInvalidArgument {
		t.Fatalf("Expected InvalidArgument, got %v", err)
	}
	call(t, b, "locationSimulationClear", loc)
	if _, _, ok := sim.Location(); ok {
		t.Fatal("location must be cleared")
	}
}

func TestHost_Apps(t *testing.T) {
	b, _ := newTestDevice(t, DefaultConfig())

	proxy := ref(t, call(t, b, "installationProxyConnect"), "client")
	apps := call(t, b, "installationProxyGetApps", proxy, "User")["apps"].([]any)
	if len(apps) != 1 || apps[0].(map[string]any)["CFBundleIdentifier"] != "com.example.demo" {
		t.Fatalf("unexpected user apps %v", apps)
	}
	apps = call(t, b, "installationProxyGetApps", proxy, nil, []any{"com.apple.mobilesafari"})["apps"].([]any)
	if len(apps) != 1 {
		t.Fatalf("Expected one filtered app, got %v", apps)
	}

	sb := ref(t, call(t, b, "springboardServicesConnect"), "client")
	icon := ref(t, call(t, b, "springboardGetIcon", sb, "com.example.demo"), "icon")
	data, ok := b.Buffers().Resolve(icon.ID)
	if !ok || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("Expected PNG icon, got %d bytes", len(data))
	}
	_, err := b.Call(context.Background(), "springboardGetIcon", sb, "com.unknown")
	if nativeCode(t, err) != CodeAppNotFound {
		t.Fatalf("Expected AppNotFound, got %v", err)
	}
}

func TestHost_DoubleFreeIsSafe(t *testing.T) {
	b, sim := newTestDevice(t, DefaultConfig())

	client := ref(t, call(t, b, "afcClientConnect"), "client")
	if call(t, b, "freeHandle", client)["freed"] != true {
		t.Fatal("Expected first free to succeed")
	}
	if call(t, b, "freeHandle", client)["freed"] != false {
		t.Fatal("Expected second free to report false")
	}
	if sim.Live() != 0 {
		t.Fatalf("Expected no live objects, got %v", sim.LiveKinds())
	}
}

func TestHost_CloseReleasesEverything(t *testing.T) {
	b, sim := newTestDevice(t, DefaultConfig())
	sim.WriteFile("/a.txt", []byte("a"))

	adapter, hs := connectRSD(t, b)
	server := ref(t, call(t, b, "remoteServerConnectRsd", adapter, hs), "server")
	call(t, b, "processControlNew", server)
	client := ref(t, call(t, b, "afcClientConnect"), "client")
	call(t, b, "afcFileOpen", client, "/a.txt")

	if sim.Live() == 0 {
		t.Fatal("Expected live native objects before close")
	}
	td := b.Close()
	if td.Handles != 6 {
		t.Fatalf("Expected 6 handles drained, got %+v", td)
	}
	if sim.Live() != 0 {
		t.Fatalf("Expected all native objects released, got %v", sim.LiveKinds())
	}
}

func TestHost_CloseCancelsSlowConnect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Latency = time.Hour
	b, sim := newTestDevice(t, cfg)

	delivered := make(chan struct{}, 1)
	err := b.Dispatch(context.Background(), dispatch.Message{Op: "afcClientConnect"},
		func(map[string]any) { delivered <- struct{}{} },
		func(errors.Failure) { delivered <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}

	if td := b.Close(); td.Cancelled != 1 {
		t.Fatalf("Expected one cancelled request, got %+v", td)
	}
	select {
	case <-delivered:
		t.Fatal("cancelled request must not deliver")
	case <-time.After(50 * time.Millisecond):
	}
	if sim.Live() != 0 {
		t.Fatalf("Expected no live objects, got %v", sim.LiveKinds())
	}
}

func TestHost_ServiceQueries(t *testing.T) {
	b, _ := newTestDevice(t, DefaultConfig())
	_, hs := connectRSD(t, b)

	services := call(t, b, "rsdGetServices", hs)["services"].([]any)
	if len(services) != len(DefaultConfig().Services) {
		t.Fatalf("unexpected services %v", services)
	}
	if call(t, b, "rsdServiceAvailable", hs, "com.apple.afc.shim.remote")["available"] != true {
		t.Fatal("Expected AFC service available")
	}
	info := call(t, b, "rsdGetServiceInfo", hs, "com.apple.afc.shim.remote")
	if info["port"] != int64(53002) {
		t.Fatalf("unexpected service info %v", info)
	}
	_, err := b.Call(context.Background(), "rsdGetServiceInfo", hs, "com.apple.missing")
	if nativeCode(t, err) != CodeServiceNotFound {
		t.Fatalf("Expected ServiceNotFound, got %v", err)
	}
}

func TestHost_OperationsRegistered(t *testing.T) {
	b, _ := newTestDevice(t, DefaultConfig())
	for _, op := range NewHost(nil).Operations() {
		if b.Namespace(op.Name) != Namespace {
			t.Fatalf("operation %s not registered under %s", op.Name, Namespace)
		}
		if !strings.Contains(op.Doc, " ") {
			t.Fatalf("operation %s has no doc", op.Name)
		}
	}
}
