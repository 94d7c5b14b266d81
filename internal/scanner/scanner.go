// Package scanner finds OFX statement files on disk for batch import.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Scanner walks a directory tree and finds statement files.
type Scanner struct {
	rootDir string
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir}
}

// ScanResult represents a found statement file.
type ScanResult struct {
	Path string
	// BankHint is the first directory under the root, when files are laid
	// out as {root}/{bank}/file.ofx. Empty for files directly under root.
	BankHint string
}

// Scan walks the directory tree and returns all statement files in path
// order.
func (s *Scanner) Scan() ([]ScanResult, error) {
	rootDir := s.expandHome(s.rootDir)

	var results []ScanResult
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !s.isStatementFile(path) {
			return nil
		}

		results = append(results, ScanResult{
			Path:     path,
			BankHint: s.bankHint(path, rootDir),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// isStatementFile checks if file is a known statement format
func (s *Scanner) isStatementFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".ofx" || ext == ".qfx"
}

// bankHint extracts the first directory component under the root.
func (s *Scanner) bankHint(filePath, rootDir string) string {
	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	if len(parts) >= 2 {
		return parts[0]
	}
	return ""
}

// expandHome expands ~ to home directory
func (s *Scanner) expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
