package memcore

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ignorePattern is a single parsed .memignore pattern.
type ignorePattern struct {
	pattern  string
	negated  bool
	dirOnly  bool
	anchored bool
}

// ignoreMatcher holds the patterns of the .memignore file at the root of the
// working tree; .memignore files in subdirectories are not read.
type ignoreMatcher struct {
	rules []ignoreRule
}

// ignoreRule is a pattern associated with the working-tree-relative
// directory its source file was found in, so anchored patterns match
// relative to their own location.
type ignoreRule struct {
	baseDir string
	pat     ignorePattern
}

// loadIgnoreMatcher builds an ignoreMatcher from the root .memignore file.
func loadIgnoreMatcher(workDir string, logger *slog.Logger) *ignoreMatcher {
	m := &ignoreMatcher{}
	m.loadFile(workDir, "", logger)
	return m
}

func (m *ignoreMatcher) loadFile(workDir, baseDir string, logger *slog.Logger) {
	path := filepath.Join(workDir, filepath.FromSlash(baseDir), ".memignore")
	f, err := os.Open(path) //nolint:gosec // path is relative to the repository working tree
	if err != nil {
		return // file is optional
	}
	defer func() {
		if err := f.Close(); err != nil && logger != nil {
			logger.Warn("closing .memignore", "error", err)
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		pat, ok := parseIgnoreLine(scanner.Text())
		if !ok {
			continue
		}
		m.rules = append(m.rules, ignoreRule{baseDir: baseDir, pat: pat})
	}
}

// isIgnored reports whether relPath (forward-slash separated, working-tree
// relative) should be excluded from staging and status.
func (m *ignoreMatcher) isIgnored(relPath string, isDir bool) bool {
	ignored := false
	for _, rule := range m.rules {
		if rule.pat.dirOnly && !isDir {
			continue
		}
		if matchPattern(rule, relPath) {
			ignored = !rule.pat.negated
		}
	}
	return ignored
}

func parseIgnoreLine(line string) (ignorePattern, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || line[0] == '#' {
		return ignorePattern{}, false
	}

	var pat ignorePattern
	if line[0] == '!' {
		pat.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		pat.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		pat.anchored = true
		line = line[1:]
	}
	if strings.Contains(line, "/") {
		remainder := strings.TrimPrefix(line, "**/")
		if strings.Contains(remainder, "/") {
			pat.anchored = true
		} else if !strings.HasPrefix(line, "**/") {
			pat.anchored = true
		}
	}

	pat.pattern = line
	return pat, line != ""
}

func matchPattern(rule ignoreRule, relPath string) bool {
	pat := rule.pat
	target := relPath
	if rule.baseDir != "" {
		if !strings.HasPrefix(relPath, rule.baseDir) {
			return false
		}
		target = relPath[len(rule.baseDir):]
	}

	if pat.anchored {
		return matchGlob(pat.pattern, target)
	}

	base := target
	if idx := strings.LastIndex(target, "/"); idx >= 0 {
		base = target[idx+1:]
	}
	if matchGlob(pat.pattern, base) {
		return true
	}
	return matchGlob(pat.pattern, target)
}

// matchGlob matches a .memignore-style glob pattern, honoring "**" as zero
// or more path components, unlike filepath.Match.
func matchGlob(pattern, name string) bool {
	if !strings.Contains(pattern, "**") {
		matched, _ := filepath.Match(pattern, name)
		return matched
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(patParts, nameParts []string) bool {
	pi, ni := 0, 0
	for pi < len(patParts) && ni < len(nameParts) {
		if patParts[pi] == "**" {
			pi++
			if pi >= len(patParts) {
				return true
			}
			for tryNi := ni; tryNi <= len(nameParts); tryNi++ {
				if matchSegments(patParts[pi:], nameParts[tryNi:]) {
					return true
				}
			}
			return false
		}
		matched, _ := filepath.Match(patParts[pi], nameParts[ni])
		if !matched {
			return false
		}
		pi++
		ni++
	}
	for pi < len(patParts) {
		if patParts[pi] != "**" {
			return false
		}
		pi++
	}
	return ni >= len(nameParts)
}
