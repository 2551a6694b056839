package scrape

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// frontmatter is the parsed YAML header of a prose file. Values are
// accessed leniently; prose authors are not schema-checked.
type frontmatter map[string]any

// splitFrontmatter separates a markdown document into its YAML header
// and body. Documents without a header return an empty map.
func splitFrontmatter(data []byte) (frontmatter, string, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return frontmatter{}, text, nil
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return frontmatter{}, text, nil
	}
	header := rest[:end]
	body := rest[end+4:]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}

	fm := frontmatter{}
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, "", fmt.Errorf("frontmatter: %w", err)
	}
	return fm, body, nil
}

func (f frontmatter) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := f[k]; ok {
			switch t := v.(type) {
			case string:
				return t
			case int, int64, float64, bool:
				return fmt.Sprint(t)
			case time.Time:
				return t.Format(time.RFC3339)
			}
		}
	}
	return ""
}

func (f frontmatter) list(keys ...string) []string {
	for _, k := range keys {
		v, ok := f[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case []any:
			out := make([]string, 0, len(t))
			for _, item := range t {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case string:
			if t == "" {
				return nil
			}
			parts := strings.Split(t, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
	}
	return nil
}

// section returns the text under the first "## <title>" heading, up to
// the next heading of the same level.
func section(body, title string) string {
	marker := "## " + title
	idx := strings.Index(body, marker)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(marker):]
	if end := strings.Index(rest, "\n## "); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// bullets returns the "- " items of a markdown list block.
func bullets(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			out = append(out, strings.TrimSpace(strings.TrimPrefix(line, "- ")))
		} else if strings.HasPrefix(line, "* ") {
			out = append(out, strings.TrimSpace(strings.TrimPrefix(line, "* ")))
		}
	}
	return out
}

// fencedBlocks returns the contents of ``` blocks tagged with lang.
func fencedBlocks(body, lang string) []string {
	var out []string
	lines := strings.Split(body, "\n")
	var buf []string
	in := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !in && trimmed == "```"+lang {
			in = true
			buf = nil
			continue
		}
		if in && trimmed == "```" {
			in = false
			if block := strings.TrimSpace(strings.Join(buf, "\n")); block != "" {
				out = append(out, block)
			}
			continue
		}
		if in {
			buf = append(buf, line)
		}
	}
	return out
}
