package tasklayout

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var fence = []byte("---")

// Frontmatter is the optional YAML header of a task's spec.md
type Frontmatter struct {
	Title     string   `yaml:"title"`
	DependsOn []string `yaml:"depends_on"`
}

// ParseFrontmatter splits spec.md into its frontmatter and body. Content
// without a complete header is returned unchanged with an empty Frontmatter.
func ParseFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	lines := bytes.SplitAfter(content, []byte("\n"))
	if len(lines) == 0 || !bytes.Equal(bytes.TrimSpace(lines[0]), fence) {
		return &Frontmatter{}, content, nil
	}

	offset := len(lines[0])
	for _, line := range lines[1:] {
		if bytes.Equal(bytes.TrimSpace(line), fence) {
			var fm Frontmatter
			if err := yaml.Unmarshal(content[len(lines[0]):offset], &fm); err != nil {
				return nil, nil, fmt.Errorf("frontmatter: %w", err)
			}
			return &fm, bytes.TrimLeft(content[offset+len(line):], "\n"), nil
		}
		offset += len(line)
	}
	return &Frontmatter{}, content, nil
}

// firstHeading returns the text of the first level-one markdown heading
func firstHeading(body []byte) string {
	for _, line := range bytes.Split(body, []byte("\n")) {
		if title, ok := bytes.CutPrefix(line, []byte("# ")); ok {
			return string(bytes.TrimSpace(title))
		}
	}
	return ""
}
