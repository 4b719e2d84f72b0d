package vastai

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// validUnixPath rejects locator paths with NUL bytes or empty components.
var validUnixPath = regexp.MustCompile(`^(/)?([^/\x00]+(/)?)+$`)

// ParseLocator splits an instance_id:path resource locator, the form the
// rsync command endpoint uses to address files on instances. A locator
// without an id refers to id 0 (the caller's side of the copy).
func ParseLocator(locator string) (int, string, error) {
	instanceID := 0
	path := locator

	if strings.Contains(locator, ":") {
		parts := strings.SplitN(locator, ":", 2)
		id, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, "", fmt.Errorf("vastai: locator %q: instance id must be an integer", locator)
		}
		instanceID = id
		path = parts[1]
	}

	if path != "/" && !validUnixPath.MatchString(path) {
		return 0, "", fmt.Errorf("vastai: locator %q: %q is not a valid unix path", locator, path)
	}
	return instanceID, path, nil
}

// FormatLocator builds the instance_id:path locator form ParseLocator
// accepts.
func FormatLocator(instanceID int, path string) string {
	return fmt.Sprintf("%d:%s", instanceID, path)
}
