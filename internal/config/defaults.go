package config

const (
	defaultStateDir     = "~/.local/share/conductor/state"
	defaultWorkspaceDir = "~/.local/share/conductor/workspace"
	defaultLogDir       = "~/.local/share/conductor/logs"
	defaultSocketPath   = "~/.local/share/conductor/conductord.sock"

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120

	defaultDetectorCheckInterval  = 300
	defaultDetectorStallThreshold = 900
	defaultNoProgressGrace        = 600

	defaultCheckpointIntervalMinutes = 30
	defaultCheckpointProgressDelta   = 25.0
	defaultCheckpointKeep            = 5
	defaultCheckpointMinDiskMiB      = 64

	defaultCoordinatorSlots       = 4
	defaultCoordinatorMemoryUnits = 4096

	defaultTransientMaxAttempts   = 3
	defaultTransientBackoffBaseMS = 1000
	defaultPermissionMaxAttempts  = 2
	defaultPermissionDelaySeconds = 30

	defaultGateTimeoutMinutes = 60

	defaultNotifyRequestTimeout = 10

	defaultAgentTimeoutSeconds = 600
)

// DefaultSequences returns the built-in phase sequences per workflow type.
func DefaultSequences() map[string][]string {
	return map[string][]string{
		"new-project":      {"discovery", "research", "planning"},
		"existing-project": {"assessment", "gap-analysis", "planning"},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:       defaultStateDir,
			WorkspaceDir:   defaultWorkspaceDir,
			LogDir:         defaultLogDir,
			SocketPath:     defaultSocketPath,
			AllowedTargets: []string{"docs", "reports", "tasks"},
		},
		Workflow: Workflow{
			Sequences:          DefaultSequences(),
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Detector: Detector{
			CheckInterval:   defaultDetectorCheckInterval,
			StallThreshold:  defaultDetectorStallThreshold,
			NoProgressGrace: defaultNoProgressGrace,
		},
		Checkpoints: Checkpoints{
			IntervalMinutes:      defaultCheckpointIntervalMinutes,
			ProgressDeltaPercent: defaultCheckpointProgressDelta,
			Keep:                 defaultCheckpointKeep,
			MinDiskMiB:           defaultCheckpointMinDiskMiB,
		},
		Coordinator: Coordinator{
			Slots:       defaultCoordinatorSlots,
			MemoryUnits: defaultCoordinatorMemoryUnits,
		},
		Retry: Retry{
			TransientMaxAttempts:   defaultTransientMaxAttempts,
			TransientBackoffBaseMS: defaultTransientBackoffBaseMS,
			PermissionMaxAttempts:  defaultPermissionMaxAttempts,
			PermissionDelaySeconds: defaultPermissionDelaySeconds,
		},
		Gates: Gates{
			DefaultTimeoutMinutes: defaultGateTimeoutMinutes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Agent: Agent{
			TimeoutSeconds: defaultAgentTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
