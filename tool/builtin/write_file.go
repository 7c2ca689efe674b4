package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/tool"
	"github.com/subagentrun/subagent/value"
)

// WriteFileConfig bounds where and how large a write_file call may
// write.
type WriteFileConfig struct {
	MaxFileSize       int
	AllowedExtensions []string
	BackupOnOverwrite bool
	WorkingDirectory  string
}

func (c *WriteFileConfig) setDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 1048576
	}
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = []string{".go", ".yaml", ".md", ".json", ".txt", ".sh"}
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
}

// WriteFile builds the "write_file" Descriptor: creates or overwrites
// a file under the configured working directory, backing up the
// previous contents on overwrite.
func WriteFile(cfg *WriteFileConfig) tool.Descriptor {
	if cfg == nil {
		cfg = &WriteFileConfig{BackupOnOverwrite: true}
	}
	cfg.setDefaults()

	sig, err := signature.Parse("(path :string, content :string, backup :bool?) -> :map")
	if err != nil {
		panic(err)
	}

	return tool.Descriptor{
		Name:        "write_file",
		Description: "Create a new file or overwrite an existing file with content. Backs up the previous contents unless backup is explicitly false.",
		Signature:   sig,
		Handler: func(ctx context.Context, args *value.Map) (any, error) {
			pathV, _ := args.Get(value.Keyword("path"))
			path, ok := pathV.(string)
			if !ok || path == "" {
				return nil, fmt.Errorf("path argument is required")
			}
			contentV, _ := args.Get(value.Keyword("content"))
			content, ok := contentV.(string)
			if !ok {
				return nil, fmt.Errorf("content argument is required")
			}
			backup := true
			if b, ok := args.Get(value.Keyword("backup")); ok {
				if bv, ok := b.(bool); ok {
					backup = bv
				}
			}

			if err := validateWritePath(cfg, path); err != nil {
				return nil, err
			}
			if len(content) > cfg.MaxFileSize {
				return nil, fmt.Errorf("content too large: %d bytes (max: %d)", len(content), cfg.MaxFileSize)
			}

			fullPath := filepath.Join(cfg.WorkingDirectory, path)

			fileExisted := false
			if backup && cfg.BackupOnOverwrite {
				if _, statErr := os.Stat(fullPath); statErr == nil {
					fileExisted = true
					if err := copyFile(fullPath, fullPath+".bak"); err != nil {
						return nil, fmt.Errorf("failed to create backup: %w", err)
					}
				}
			}

			if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
			if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
				return nil, fmt.Errorf("failed to write file: %w", err)
			}

			action := "created"
			if fileExisted {
				action = "overwritten"
			}
			return value.NewMap(
				value.Keyword("path"), path,
				value.Keyword("action"), action,
				value.Keyword("size"), int64(len(content)),
				value.Keyword("backed_up"), fileExisted && backup,
			), nil
		},
	}
}

func validateWritePath(cfg *WriteFileConfig, path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed, use relative paths")
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("directory traversal not allowed (..)")
	}

	absPath, err := filepath.Abs(filepath.Join(cfg.WorkingDirectory, cleaned))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	absWorkDir, err := filepath.Abs(cfg.WorkingDirectory)
	if err != nil {
		return fmt.Errorf("invalid working directory: %w", err)
	}
	if !strings.HasPrefix(absPath, absWorkDir) {
		return fmt.Errorf("path escapes working directory")
	}

	if len(cfg.AllowedExtensions) > 0 {
		ext := filepath.Ext(path)
		if ext == "" {
			return fmt.Errorf("file must have an extension")
		}
		allowed := false
		for _, ae := range cfg.AllowedExtensions {
			if ext == ae {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("file extension %s not allowed (allowed: %v)", ext, cfg.AllowedExtensions)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
