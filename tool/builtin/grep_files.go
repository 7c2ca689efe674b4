package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/tool"
	"github.com/subagentrun/subagent/value"
)

// GrepFilesConfig bounds a grep_files call's default and max result
// limit.
type GrepFilesConfig struct {
	WorkingDirectory string
	DefaultLimit     int
	MaxLimit         int
}

func (c *GrepFilesConfig) setDefaults() {
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = 20
	}
	if c.MaxLimit == 0 {
		c.MaxLimit = 200
	}
}

// grepMatch is one line matched by a grep_files call.
type grepMatch struct {
	Path string
	Line int
	Text string
}

// GrepFiles builds the "grep_files" Descriptor: a regex search across
// files under the working directory, returning matches ordered by
// path then line, implemented directly over os/regexp rather than a
// document-store backend.
func GrepFiles(cfg *GrepFilesConfig) tool.Descriptor {
	if cfg == nil {
		cfg = &GrepFilesConfig{}
	}
	cfg.setDefaults()

	sig, err := signature.Parse("(pattern :string, path_glob :string?, limit :int?) -> :map")
	if err != nil {
		panic(err)
	}

	return tool.Descriptor{
		Name:        "grep_files",
		Description: "Search files under the working directory for lines matching a regular expression.",
		Signature:   sig,
		Handler: func(ctx context.Context, args *value.Map) (any, error) {
			patV, _ := args.Get(value.Keyword("pattern"))
			pattern, ok := patV.(string)
			if !ok || pattern == "" {
				return nil, fmt.Errorf("pattern argument is required")
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern: %w", err)
			}

			glob := "*"
			if g, ok := args.Get(value.Keyword("path_glob")); ok {
				if s, ok := g.(string); ok && s != "" {
					glob = s
				}
			}

			limit := cfg.DefaultLimit
			if l, ok := args.Get(value.Keyword("limit")); ok {
				if iv, ok := l.(int64); ok && iv > 0 {
					limit = int(iv)
				}
			}
			if limit > cfg.MaxLimit {
				limit = cfg.MaxLimit
			}

			var matches []grepMatch
			walkErr := filepath.Walk(cfg.WorkingDirectory, func(p string, info os.FileInfo, err error) error {
				if err != nil || info.IsDir() {
					return nil
				}
				if ok, _ := filepath.Match(glob, filepath.Base(p)); !ok {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				fileMatches, err := grepFile(p, re)
				if err != nil {
					return nil // unreadable file, skip it
				}
				matches = append(matches, fileMatches...)
				return nil
			})
			if walkErr != nil {
				return nil, walkErr
			}

			sort.Slice(matches, func(i, j int) bool {
				if matches[i].Path != matches[j].Path {
					return matches[i].Path < matches[j].Path
				}
				return matches[i].Line < matches[j].Line
			})

			truncated := false
			if len(matches) > limit {
				matches = matches[:limit]
				truncated = true
			}

			results := make([]any, len(matches))
			for i, m := range matches {
				results[i] = value.NewMap(
					value.Keyword("path"), m.Path,
					value.Keyword("line"), int64(m.Line),
					value.Keyword("text"), m.Text,
				)
			}

			return value.NewMap(
				value.Keyword("matches"), &value.Vector{Items: results},
				value.Keyword("total"), int64(len(results)),
				value.Keyword("truncated"), truncated,
			), nil
		},
	}
}

func grepFile(path string, re *regexp.Regexp) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []grepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			out = append(out, grepMatch{Path: path, Line: lineNo, Text: strings.TrimSpace(line)})
		}
	}
	return out, scanner.Err()
}
