package api

// v0 contains the public vocabulary of a provisioning run.

// State is a node of the provisioning state machine. Transitions are strictly
// linear; any fatal condition moves the run to StateAborted.
type State string

const (
	StateRuntimeUnresolved State = "runtime_unresolved"
	StateRuntimeResolved   State = "runtime_resolved"
	StateToolUnresolved    State = "tool_unresolved"
	StateToolResolved      State = "tool_resolved"
	StateAssetChecked      State = "asset_checked"
	StatePackagesSynced    State = "packages_synced"
	StateConfigReady       State = "config_ready"
	StateLauncherReady     State = "launcher_ready"
	StateDone              State = "done"
	StateAborted           State = "aborted"
)

// Order lists the non-terminal happy path in transition order, ending in StateDone.
var Order = []State{
	StateRuntimeUnresolved,
	StateRuntimeResolved,
	StateToolUnresolved,
	StateToolResolved,
	StateAssetChecked,
	StatePackagesSynced,
	StateConfigReady,
	StateLauncherReady,
	StateDone,
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool { return s == StateDone || s == StateAborted }

// AssetState is the outcome of ensuring the optional language-model file.
type AssetState string

const (
	AssetPresent    AssetState = "present"
	AssetDownloaded AssetState = "downloaded"
	AssetDegraded   AssetState = "degraded"
	// AssetSkipped is recorded when the operator disabled the asset step.
	AssetSkipped AssetState = "skipped"
)

// ExitCode values returned by the provisioning command.
const (
	ExitDone    = 0
	ExitAborted = 1
)

// RunSummary is the journaled outcome of one run.
type RunSummary struct {
	ID          string     `json:"id" yaml:"id"`
	AppDir      string     `json:"app_dir" yaml:"app_dir"`
	State       State      `json:"state" yaml:"state"`
	Asset       AssetState `json:"asset" yaml:"asset"`
	RuntimePath string     `json:"runtime_path" yaml:"runtime_path"`
	ToolPath    string     `json:"tool_path" yaml:"tool_path"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   string     `json:"started_at" yaml:"started_at"`
	FinishedAt  string     `json:"finished_at" yaml:"finished_at"`
}

// StepEvent is one recorded state transition.
type StepEvent struct {
	State  State  `json:"state" yaml:"state"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
	At     string `json:"at" yaml:"at"`
}
