package fetcher

import "os"

// writeTestFile writes fixture extract content to a file path.
func writeTestFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
