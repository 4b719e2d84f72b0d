package mockvast

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Offer is a mock marketplace offer in wire format.
type Offer struct {
	ID            int     `json:"id"`
	MachineID     int     `json:"machine_id"`
	GPUName       string  `json:"gpu_name"`
	NumGPUs       int     `json:"num_gpus"`
	GPURam        float64 `json:"gpu_ram"`
	CPURam        float64 `json:"cpu_ram"`
	CPUCores      int     `json:"cpu_cores"`
	DiskSpace     float64 `json:"disk_space"`
	DphTotal      float64 `json:"dph_total"`
	TotalFlops    float64 `json:"total_flops"`
	DLPerf        float64 `json:"dlperf"`
	Reliability   float64 `json:"reliability2"`
	InetUp        float64 `json:"inet_up"`
	InetDown      float64 `json:"inet_down"`
	CudaMaxGood   float64 `json:"cuda_max_good"`
	DriverVersion string  `json:"driver_version"`
	Verified      bool    `json:"verified"`
	Rentable      bool    `json:"rentable"`
	Rented        bool    `json:"rented"`
	External      bool    `json:"external"`
	PublicIPAddr  string  `json:"public_ipaddr"`
	SSHPortStart  int     `json:"direct_port_start"`
	Geolocation   string  `json:"geolocation"`
}

// Instance is a mock rented instance in wire format.
type Instance struct {
	ID             int     `json:"id"`
	MachineID      int     `json:"machine_id"`
	ActualStatus   string  `json:"actual_status"`
	IntendedStatus string  `json:"intended_status"`
	CurState       string  `json:"cur_state"`
	StatusMsg      string  `json:"status_msg"`
	SSHHost        string  `json:"ssh_host"`
	SSHPort        int     `json:"ssh_port"`
	Label          string  `json:"label"`
	ImageUUID      string  `json:"image_uuid"`
	GPUName        string  `json:"gpu_name"`
	NumGPUs        int     `json:"num_gpus"`
	DphTotal       float64 `json:"dph_total"`
	MinBid         float64 `json:"min_bid"`
	IsBid          bool    `json:"is_bid"`
	StartDate      float64 `json:"start_date"`
}

// failure is an injected one-shot error response for one operation.
type failure struct {
	status int
	body   string
}

// State holds the in-memory marketplace state behind the mock server.
type State struct {
	mu           sync.RWMutex
	offers       map[int]*Offer
	instances    map[int]*Instance
	nextContract int
	failNext     map[string]failure
}

// NewState creates mock state pre-seeded with a handful of offers.
func NewState() *State {
	s := &State{
		offers:       make(map[int]*Offer),
		instances:    make(map[int]*Instance),
		nextContract: 10000,
		failNext:     make(map[string]failure),
	}
	s.seedOffers()
	return s
}

func (s *State) seedOffers() {
	s.offers = map[int]*Offer{
		101: {
			ID: 101, MachineID: 5001,
			GPUName: "RTX 3090", NumGPUs: 1, GPURam: 24576, CPURam: 64000, CPUCores: 16,
			DiskSpace: 500, DphTotal: 0.25, TotalFlops: 35.6, DLPerf: 42.0,
			Reliability: 0.991, InetUp: 500, InetDown: 500,
			CudaMaxGood: 12.4, DriverVersion: "550.54",
			Verified: true, Rentable: true, External: false,
			PublicIPAddr: "192.168.1.100", SSHPortStart: 22000, Geolocation: "US",
		},
		102: {
			ID: 102, MachineID: 5002,
			GPUName: "RTX 4090", NumGPUs: 2, GPURam: 24576, CPURam: 128000, CPUCores: 32,
			DiskSpace: 1000, DphTotal: 0.80, TotalFlops: 165.0, DLPerf: 95.0,
			Reliability: 0.985, InetUp: 1000, InetDown: 1000,
			CudaMaxGood: 12.4, DriverVersion: "550.54",
			Verified: true, Rentable: true, External: false,
			PublicIPAddr: "192.168.1.101", SSHPortStart: 22000, Geolocation: "DE",
		},
		103: {
			ID: 103, MachineID: 5003,
			GPUName: "A100 SXM4", NumGPUs: 1, GPURam: 81920, CPURam: 256000, CPUCores: 64,
			DiskSpace: 2000, DphTotal: 1.50, TotalFlops: 312.0, DLPerf: 200.0,
			Reliability: 0.995, InetUp: 2000, InetDown: 2000,
			CudaMaxGood: 12.4, DriverVersion: "550.54",
			Verified: true, Rentable: true, External: false,
			PublicIPAddr: "192.168.1.102", SSHPortStart: 22000, Geolocation: "US",
		},
		104: {
			ID: 104, MachineID: 5004,
			GPUName: "H100 SXM5", NumGPUs: 8, GPURam: 81920, CPURam: 1024000, CPUCores: 128,
			DiskSpace: 8000, DphTotal: 22.0, TotalFlops: 989.0, DLPerf: 420.0,
			Reliability: 0.999, InetUp: 5000, InetDown: 5000,
			CudaMaxGood: 12.4, DriverVersion: "550.54",
			Verified: false, Rentable: true, External: true,
			PublicIPAddr: "192.168.1.103", SSHPortStart: 22000, Geolocation: "IS",
		},
	}
}

// Offers returns snapshots of the rentable offers ordered by ascending
// price. Copies keep readers decoupled from later state mutations.
func (s *State) Offers() []Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offers := make([]Offer, 0, len(s.offers))
	for _, offer := range s.offers {
		if offer.Rentable && !offer.Rented {
			offers = append(offers, *offer)
		}
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].DphTotal < offers[j].DphTotal })
	return offers
}

// Offer returns a snapshot of one offer by ID.
func (s *State) Offer(id int) (Offer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.offers[id]
	if !ok {
		return Offer{}, false
	}
	return *offer, true
}

// AddOffer registers a custom offer for a test.
func (s *State) AddOffer(offer Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[offer.ID] = &offer
}

// CreateInstance rents the offer and returns a snapshot of the new
// contract. The instance starts in the loading state and flips to running
// shortly after, like the real marketplace does.
func (s *State) CreateInstance(offerID int, image, label string, isBid bool) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return Instance{}, fmt.Errorf("offer %d not found", offerID)
	}
	if offer.Rented || !offer.Rentable {
		return Instance{}, fmt.Errorf("offer %d is no longer available", offerID)
	}
	offer.Rented = true

	id := s.nextContract
	s.nextContract++

	inst := &Instance{
		ID:             id,
		MachineID:      offer.MachineID,
		ActualStatus:   "loading",
		IntendedStatus: "running",
		CurState:       "running",
		SSHHost:        offer.PublicIPAddr,
		SSHPort:        offer.SSHPortStart,
		Label:          label,
		ImageUUID:      image,
		GPUName:        offer.GPUName,
		NumGPUs:        offer.NumGPUs,
		DphTotal:       offer.DphTotal,
		MinBid:         offer.DphTotal,
		IsBid:          isBid,
		StartDate:      float64(time.Now().Unix()),
	}
	s.instances[id] = inst

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.mu.Lock()
		if i, ok := s.instances[id]; ok && i.ActualStatus == "loading" {
			i.ActualStatus = "running"
		}
		s.mu.Unlock()
	}()

	return *inst, nil
}

// Instance returns a snapshot of one instance by ID.
func (s *State) Instance(id int) (Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// Instances returns snapshots of all live instances ordered by ID.
func (s *State) Instances() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, *inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances
}

// DestroyInstance removes an instance and frees its offer.
func (s *State) DestroyInstance(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return false
	}
	for _, offer := range s.offers {
		if offer.MachineID == inst.MachineID {
			offer.Rented = false
			break
		}
	}
	delete(s.instances, id)
	return true
}

// SetInstanceState applies a start/stop state change.
func (s *State) SetInstanceState(id int, state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return false
	}
	inst.IntendedStatus = state
	switch state {
	case "running":
		inst.ActualStatus = "running"
	case "stopped":
		inst.ActualStatus = "stopped"
	}
	return true
}

// SetInstanceLabel updates an instance label.
func (s *State) SetInstanceLabel(id int, label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return false
	}
	inst.Label = label
	return true
}

// SetInstanceBid updates the bid price of an instance.
func (s *State) SetInstanceBid(id int, price float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return false
	}
	inst.IsBid = true
	inst.MinBid = price
	return true
}

// FailNext arranges for the next request of the named operation to fail
// with the given HTTP status and body. Operations: search, create, show,
// list, destroy, state, reboot, bid, command, rsync.
func (s *State) FailNext(op string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = failure{status: status, body: body}
}

// takeFailure consumes a pending injected failure, if any.
func (s *State) takeFailure(op string) (failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failNext[op]
	if ok {
		delete(s.failNext, op)
	}
	return f, ok
}

// Reset restores the initial seed state.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = make(map[int]*Instance)
	s.failNext = make(map[string]failure)
	s.nextContract = 10000
	s.seedOffers()
}
