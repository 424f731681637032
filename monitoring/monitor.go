// Package monitoring turns a running simulation into a small JSON HTTP
// server that allows external inspection and control of the engine.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/dsolab/devsim/sim"
)

// An Engine is the non-generic control surface of a simulation engine,
// as seen by the monitor. *sim.Engine[T] satisfies it for every time
// representation.
type Engine interface {
	ID() string
	Name() string
	State() sim.RunState
	NowFloat() float64
	Pending() int

	Start() error
	Stop() error
	Step() error
}

// A Monitor allows external monitoring and controlling of a simulation
// through HTTP. All control requests go through the engine's own
// control operations, so they are serialized against the run loop.
type Monitor struct {
	engine     Engine
	portNumber int

	addr string
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port the server listens on. Ports below 1000
// are rejected and a random port is used instead.
func (m *Monitor) WithPortNumber(port int) *Monitor {
	if port < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is not allowed for the monitoring server. "+
				"Using a random port instead.\n", port)
		port = 0
	}

	m.portNumber = port

	return m
}

// RegisterEngine registers the engine to monitor and control.
func (m *Monitor) RegisterEngine(e Engine) {
	m.engine = e
}

// Addr returns the address the server listens on. It is empty before
// StartServer.
func (m *Monitor) Addr() string {
	return m.addr
}

// StartServer starts the monitoring server in the background.
func (m *Monitor) StartServer() error {
	r := mux.NewRouter()
	r.HandleFunc("/api/state", m.state)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/pending", m.pending)
	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/step", m.stepEngine)
	r.HandleFunc("/api/engine", m.inspectEngine)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	port := ":0"
	if m.portNumber > 0 {
		port = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", port)
	if err != nil {
		return fmt.Errorf("starting monitor server: %w", err)
	}

	m.addr = fmt.Sprintf("localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with http://%s\n", m.addr)

	go func() {
		_ = http.Serve(listener, r)
	}()

	return nil
}

type statusRsp struct {
	EngineID string  `json:"engine_id"`
	Name     string  `json:"name"`
	State    string  `json:"state"`
	Now      float64 `json:"now"`
	Pending  int     `json:"pending"`
}

func (m *Monitor) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, statusRsp{
		EngineID: m.engine.ID(),
		Name:     m.engine.Name(),
		State:    m.engine.State().String(),
		Now:      m.engine.NowFloat(),
		Pending:  m.engine.Pending(),
	})
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]float64{"now": m.engine.NowFloat()})
}

func (m *Monitor) pending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]int{"pending": m.engine.Pending()})
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.control(w, m.engine.Stop)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.control(w, m.engine.Start)
}

func (m *Monitor) stepEngine(w http.ResponseWriter, _ *http.Request) {
	m.control(w, m.engine.Step)
}

func (m *Monitor) control(w http.ResponseWriter, op func() error) {
	if err := op(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)

		return
	}

	m.state(w, nil)
}

func (m *Monitor) inspectEngine(w http.ResponseWriter, _ *http.Request) {
	serializer := goseth.NewSerializer()
	serializer.SetRoot(m.engine)
	serializer.SetMaxDepth(2)

	if err := serializer.Serialize(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	time.Sleep(time.Second)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
