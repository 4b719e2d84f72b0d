package vastai

import "fmt"

// Instance status values reported by the marketplace in actual_status.
const (
	StatusLoading = "loading"
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusExited  = "exited"
)

// Offer is one rentable machine configuration returned by a search. Offers
// are read-only values; renting one is done through CreateInstance with the
// offer's ID.
type Offer struct {
	ID        int `json:"id"`
	MachineID int `json:"machine_id"`
	HostID    int `json:"host_id"`
	BundleID  int `json:"bundle_id"`

	// GPU
	GPUName    string  `json:"gpu_name"`
	NumGPUs    int     `json:"num_gpus"`
	GPURam     float64 `json:"gpu_ram"` // MB
	GPUFrac    float64 `json:"gpu_frac"`
	GPUMemBW   float64 `json:"gpu_mem_bw"` // GB/s
	BwNvlink   float64 `json:"bw_nvlink"`
	ComputeCap int     `json:"compute_cap"`
	TotalFlops float64 `json:"total_flops"`
	DLPerf     float64 `json:"dlperf"`

	// CPU
	CPUName           string  `json:"cpu_name"`
	CPUCores          int     `json:"cpu_cores"`
	CPUCoresEffective float64 `json:"cpu_cores_effective"`
	CPURam            float64 `json:"cpu_ram"` // MB

	// Storage
	DiskSpace float64 `json:"disk_space"` // GB
	DiskName  string  `json:"disk_name"`
	DiskBW    float64 `json:"disk_bw"` // MB/s

	// Network
	InetDown     float64 `json:"inet_down"` // Mb/s
	InetUp       float64 `json:"inet_up"`   // Mb/s
	InetDownCost float64 `json:"inet_down_cost"`
	InetUpCost   float64 `json:"inet_up_cost"`
	PublicIPAddr string  `json:"public_ipaddr"`

	// Pricing, USD
	DphBase     float64 `json:"dph_base"`  // base $/hour
	DphTotal    float64 `json:"dph_total"` // total $/hour
	MinBid      float64 `json:"min_bid"`
	StorageCost float64 `json:"storage_cost"` // $/GB/month

	// Host
	Geolocation   string  `json:"geolocation"`
	MoboName      string  `json:"mobo_name"`
	Reliability   float64 `json:"reliability2"` // [0,1]
	Rentable      bool    `json:"rentable"`
	Rented        bool    `json:"rented"`
	Verified      bool    `json:"verified"`
	Verification  string  `json:"verification"`
	CudaMaxGood   float64 `json:"cuda_max_good"`
	DriverVersion string  `json:"driver_version"`
	Score         float64 `json:"score"`

	StartDate float64 `json:"start_date"` // unix seconds
	EndDate   float64 `json:"end_date"`
	Duration  float64 `json:"duration"` // seconds
}

// Instance is a rented machine. The client never mutates instance state
// locally; every read re-fetches from the marketplace.
type Instance struct {
	ID             int    `json:"id"`
	MachineID      int    `json:"machine_id"`
	HostID         int    `json:"host_id"`
	Label          string `json:"label"`
	ActualStatus   string `json:"actual_status"`
	IntendedStatus string `json:"intended_status"`
	CurState       string `json:"cur_state"`
	NextState      string `json:"next_state"`
	StatusMsg      string `json:"status_msg"`

	// Connection
	SSHHost      string `json:"ssh_host"`
	SSHPort      int    `json:"ssh_port"`
	PublicIPAddr string `json:"public_ipaddr"`
	JupyterToken string `json:"jupyter_token"`

	// Image
	ImageUUID    string `json:"image_uuid"`
	ImageRuntype string `json:"image_runtype"`

	// Hardware
	GPUName string  `json:"gpu_name"`
	NumGPUs int     `json:"num_gpus"`
	GPURam  float64 `json:"gpu_ram"` // MB
	GPUUtil float64 `json:"gpu_util"`
	CPUUtil float64 `json:"cpu_util"`

	// Pricing, USD
	DphTotal    float64 `json:"dph_total"`
	StorageCost float64 `json:"storage_cost"`

	StartDate float64 `json:"start_date"` // unix seconds
	Duration  float64 `json:"duration"`   // seconds

	Geolocation string  `json:"geolocation"`
	Reliability float64 `json:"reliability2"`
	IsBid       bool    `json:"is_bid"`
	MinBid      float64 `json:"min_bid"`
	DiskSpace   float64 `json:"disk_space"`
	InetDown    float64 `json:"inet_down"`
	InetUp      float64 `json:"inet_up"`
}

// Running reports whether the instance has finished loading.
func (i *Instance) Running() bool {
	return i.ActualStatus == StatusRunning
}

// LaunchOptions configures CreateInstance. Image is the only required
// field; everything else falls back to the marketplace defaults.
type LaunchOptions struct {
	// Image is the docker image to launch.
	Image string `validate:"required"`
	// ImageLogin holds docker login arguments for private registries.
	ImageLogin string
	// DiskGB is the local disk partition size; 10 GB when zero.
	DiskGB float64 `validate:"gte=0"`
	// Label is attached to the instance and shown in listings.
	Label string
	// OnStart is the contents of the onstart script.
	OnStart string
	// Env holds environment variables passed to the container.
	Env map[string]string
	// PortMappings are container port publications, e.g. "8080:8080".
	PortMappings []string
	// Args are passed to the container entrypoint; mutually exclusive
	// with Jupyter.
	Args []string
	// SSH launches an ssh instance type; Direct requests a direct
	// (non-proxied) connection.
	SSH    bool
	Direct bool
	// Jupyter launches a jupyter instance instead of an ssh one.
	Jupyter    bool
	JupyterDir string
	JupyterLab bool
	// Bid is the per-machine bid price in $/hour for interruptible
	// instances; zero means on-demand.
	Bid float64 `validate:"gte=0"`
	// CreateFrom bases the new instance on an existing instance id.
	CreateFrom string
	Force      bool
	// Locale workarounds for images with broken locale setup.
	LangUTF8   bool
	PythonUTF8 bool
}

// runtype derives the marketplace run type string from the option flags.
// Resolution follows the console client: args replaces the default, jupyter
// replaces args (after the conflict check), and an explicit SSH flag wins
// over everything.
func (o *LaunchOptions) runtype() (string, error) {
	jupyter := o.Jupyter || o.JupyterDir != "" || o.JupyterLab
	if jupyter && len(o.Args) > 0 {
		return "", fmt.Errorf("vastai: jupyter and args cannot be combined; use OnStart instead of Args")
	}

	rt := "ssh"
	if len(o.Args) > 0 {
		rt = "args"
	}
	if jupyter {
		if o.Direct {
			rt = "jupyter_direc ssh_direct ssh_proxy"
		} else {
			rt = "jupyter_proxy ssh_proxy"
		}
	}
	if o.SSH {
		if o.Direct {
			rt = "ssh_direct ssh_proxy"
		} else {
			rt = "ssh_proxy"
		}
	}
	return rt, nil
}

// createInstanceRequest is the PUT /asks/{id}/ body.
type createInstanceRequest struct {
	ClientID      string            `json:"client_id"`
	Image         string            `json:"image"`
	Args          []string          `json:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Price         *float64          `json:"price,omitempty"`
	Disk          float64           `json:"disk"`
	Label         string            `json:"label,omitempty"`
	OnStart       string            `json:"onstart,omitempty"`
	RunType       string            `json:"runtype"`
	ImageLogin    string            `json:"image_login,omitempty"`
	PythonUTF8    bool              `json:"python_utf8,omitempty"`
	LangUTF8      bool              `json:"lang_utf8,omitempty"`
	UseJupyterLab bool              `json:"use_jupyter_lab,omitempty"`
	JupyterDir    string            `json:"jupyter_dir,omitempty"`
	CreateFrom    string            `json:"create_from,omitempty"`
	Force         bool              `json:"force,omitempty"`
}

// createInstanceResponse is returned by PUT /asks/{id}/.
type createInstanceResponse struct {
	Success     bool   `json:"success"`
	NewContract int    `json:"new_contract"`
	Error       string `json:"error"`
	Msg         string `json:"msg"`
}

// commandResponse is the generic {success, msg} envelope most mutation
// endpoints return with HTTP 200.
type commandResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Error   string `json:"error"`
}

func (r commandResponse) message() string {
	if r.Msg != "" {
		return r.Msg
	}
	return r.Error
}
