package model

// ServiceRecord is the persisted view of one supervised process. The
// supervisor is its only writer; everything else (status CLI, admin socket)
// reads a possibly stale copy and must tolerate that.
type ServiceRecord struct {
	Name                string  `yaml:"name" json:"name"`
	Port                int     `yaml:"port" json:"port"`
	PID                 *int    `yaml:"pid" json:"pid"`
	Listening           bool    `yaml:"listening" json:"listening"`
	ConsecutiveFailures int     `yaml:"consecutive_failures" json:"consecutive_failures"`
	RestartCount        int     `yaml:"restart_count" json:"restart_count"`
	UpdatedAt           *string `yaml:"updated_at" json:"updated_at"`
	Version             int     `yaml:"version" json:"version"`
}

type ServicesState struct {
	SchemaVersion int                      `yaml:"schema_version"`
	FileType      string                   `yaml:"file_type"`
	Services      map[string]ServiceRecord `yaml:"services"`
}
