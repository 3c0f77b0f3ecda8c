package sandbox

import "strings"

// RuntimePath rewrites a host filesystem path into the form the container
// runtime expects in bind specifications. Windows drive letters become a
// leading /<drive> segment and backslashes become forward slashes; paths
// already in POSIX form pass through unchanged.
func RuntimePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if len(p) >= 2 && p[1] == ':' {
		drive := strings.ToLower(p[:1])
		p = "/" + drive + p[2:]
	}
	return p
}
