package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task ids become filenames under queue/ and approvals/, so they must stay
// path-safe: no separators, no traversal, no leading dot.
var taskIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxTaskIDLength = 200

func ValidateTaskID(id string) error {
	if id == "" {
		return fmt.Errorf("task id is empty")
	}
	if len(id) > maxTaskIDLength {
		return fmt.Errorf("task id exceeds %d characters", maxTaskIDLength)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("task id %q contains a path traversal sequence", id)
	}
	if !taskIDRegex.MatchString(id) {
		return fmt.Errorf("task id %q contains characters outside [A-Za-z0-9._-]", id)
	}
	return nil
}

// NewTaskID generates an id of the form task_<unix>_<rand8> for submitted
// descriptors. The random component comes from a UUID so accidental id reuse
// (and with it marker reuse) takes deliberate operator action.
func NewTaskID() string {
	rand := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("task_%010d_%s", time.Now().Unix(), rand)
}

// TaskIDFromFilename derives the id the queue uses for a descriptor: the base
// name minus its final extension.
func TaskIDFromFilename(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}
