package detect

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads a label table in .names format (one class name per
// line, index order). The table is what maps model class ids to pill
// names, so an empty file is an error.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open label table: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		labels = append(labels, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read label table: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label table %s is empty", path)
	}
	return labels, nil
}
