package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/tool"
	"github.com/subagentrun/subagent/value"
)

// SearchReplaceConfig bounds a search_replace call.
type SearchReplaceConfig struct {
	MaxReplacements  int
	CreateBackup     bool
	WorkingDirectory string
}

func (c *SearchReplaceConfig) setDefaults() {
	if c.MaxReplacements == 0 {
		c.MaxReplacements = 100
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
}

// SearchReplace builds the "search_replace" Descriptor: replaces exact
// text in a file, requiring the match be unique unless replace_all is
// set.
func SearchReplace(cfg *SearchReplaceConfig) tool.Descriptor {
	if cfg == nil {
		cfg = &SearchReplaceConfig{CreateBackup: true}
	}
	cfg.setDefaults()

	sig, err := signature.Parse("(path :string, old_string :string, new_string :string, replace_all :bool?) -> :map")
	if err != nil {
		panic(err)
	}

	return tool.Descriptor{
		Name:        "search_replace",
		Description: "Replace exact text in a file. Preserves formatting and indentation. The match must be unique unless replace_all is true.",
		Signature:   sig,
		Handler: func(ctx context.Context, args *value.Map) (any, error) {
			pathV, _ := args.Get(value.Keyword("path"))
			path, ok := pathV.(string)
			if !ok || path == "" {
				return nil, fmt.Errorf("path argument is required")
			}
			oldV, _ := args.Get(value.Keyword("old_string"))
			oldString, ok := oldV.(string)
			if !ok || oldString == "" {
				return nil, fmt.Errorf("old_string argument is required")
			}
			newV, _ := args.Get(value.Keyword("new_string"))
			newString, ok := newV.(string)
			if !ok {
				return nil, fmt.Errorf("new_string argument is required")
			}
			replaceAll := false
			if ra, ok := args.Get(value.Keyword("replace_all")); ok {
				if rv, ok := ra.(bool); ok {
					replaceAll = rv
				}
			}

			fullPath, err := validateSearchReplacePath(cfg, path)
			if err != nil {
				return nil, err
			}

			content, err := os.ReadFile(fullPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read file: %w", err)
			}
			original := string(content)

			if !strings.Contains(original, oldString) {
				return nil, fmt.Errorf("old_string not found in file")
			}
			count := strings.Count(original, oldString)
			if !replaceAll && count > 1 {
				return nil, fmt.Errorf("old_string appears %d times - must be unique or use replace_all=true", count)
			}
			if count > cfg.MaxReplacements {
				return nil, fmt.Errorf("too many replacements: %d (max: %d)", count, cfg.MaxReplacements)
			}

			var newContent string
			replacements := 1
			if replaceAll {
				newContent = strings.ReplaceAll(original, oldString, newString)
				replacements = count
			} else {
				newContent = strings.Replace(original, oldString, newString, 1)
			}

			if cfg.CreateBackup {
				if err := os.WriteFile(fullPath+".bak", content, 0644); err != nil {
					return nil, fmt.Errorf("failed to create backup: %w", err)
				}
			}
			if err := os.WriteFile(fullPath, []byte(newContent), 0644); err != nil {
				return nil, fmt.Errorf("failed to write file: %w", err)
			}

			return value.NewMap(
				value.Keyword("path"), path,
				value.Keyword("replacements"), int64(replacements),
				value.Keyword("backed_up"), cfg.CreateBackup,
				value.Keyword("size_change"), int64(len(newContent)-len(original)),
			), nil
		},
	}
}

func validateSearchReplacePath(cfg *SearchReplaceConfig, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed")
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("directory traversal not allowed")
	}
	fullPath := filepath.Join(cfg.WorkingDirectory, path)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("file does not exist: %s", path)
	}
	return fullPath, nil
}
