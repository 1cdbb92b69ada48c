// Package monitor exposes a running simulation's cache arrays over
// HTTP: per-array statistics, a goseth-serialized state dump for
// debugging, process resource usage, and on-demand CPU profiles.
package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	// Registers /debug/pprof/* handlers on the default mux.
	_ "net/http/pprof"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/cachearray/cachearray"
)

// Monitor serves introspection endpoints for a set of named cache
// arrays.
type Monitor struct {
	portNumber int

	mu     sync.Mutex
	arrays map[string]cachearray.CacheArray
}

// NewMonitor creates a Monitor with no arrays registered.
func NewMonitor() *Monitor {
	return &Monitor{arrays: make(map[string]cachearray.CacheArray)}
}

// WithPortNumber sets the port the monitor listens on. Values below
// 1000 are rejected in favor of an OS-assigned port, so the monitor
// never claims a privileged port by accident.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"port number %d is not allowed for the monitoring server, "+
				"using a random port instead\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterArray makes an array reachable under name at
// /api/array/{name}/....
func (m *Monitor) RegisterArray(name string, array cachearray.CacheArray) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.arrays[name] = array
}

func (m *Monitor) lookup(name string) (cachearray.CacheArray, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.arrays[name]

	return a, ok
}

// StartServer starts the monitor's HTTP server in the background and
// returns once it is listening.
func (m *Monitor) StartServer() {
	r := mux.NewRouter()
	r.HandleFunc("/api/arrays", m.listArrays)
	r.HandleFunc("/api/array/{name}/stats", m.arrayStats)
	r.HandleFunc("/api/array/{name}/debug", m.arrayDebug)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	http.Handle("/", r)

	actualPort := ":0"
	if m.portNumber >= 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	fmt.Fprintf(os.Stderr,
		"monitoring cache arrays at http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		dieOnErr(http.Serve(listener, nil))
	}()
}

func (m *Monitor) listArrays(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	names := make([]string, 0, len(m.arrays))
	for name := range m.arrays {
		names = append(names, name)
	}
	m.mu.Unlock()

	writeJSON(w, names)
}

func (m *Monitor) arrayStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	array, ok := m.lookup(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "no array registered as %q", name)

		return
	}

	writeJSON(w, array.Stats())
}

// arrayDebug serializes the full array value (tag storage, hash
// family, replacement policy state) one level deep.
func (m *Monitor) arrayDebug(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	array, ok := m.lookup(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "no array registered as %q", name)

		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(array)
	serializer.SetMaxDepth(1)
	dieOnErr(serializer.Serialize(w))
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()

	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{CPUPercent: cpuPercent, MemorySize: memInfo.RSS})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	dieOnErr(pprof.StartCPUProfile(buf))
	time.Sleep(time.Second)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		panic(err)
	}
}
