package provider

import (
	"fmt"
	"os"
	"path/filepath"
)

// homeWhitelist names the subset of a real home directory selectively
// mirrored into an isolated per-invocation home, to avoid state bleed
// between concurrent runs while still letting an actor CLI find its own
// credentials/config (§4.3).
var homeWhitelist = []string{
	".config",
	".ssh",
	".gitconfig",
	".npmrc",
}

// promptFile is a scoped 0600 temp file holding the prompt text, removed on
// every exit path including a caller panic (§4.3, §9 "scoped resource with
// guaranteed cleanup").
type promptFile struct {
	path string
}

func newPromptFile(prompt string) (*promptFile, error) {
	f, err := os.CreateTemp("", "steroids-prompt-*.txt")
	if err != nil {
		return nil, fmt.Errorf("provider: create prompt file: %w", err)
	}
	defer f.Close()
	if err := f.Chmod(0o600); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("provider: chmod prompt file: %w", err)
	}
	if _, err := f.WriteString(prompt); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("provider: write prompt file: %w", err)
	}
	return &promptFile{path: f.Name()}, nil
}

func (p *promptFile) Close() error {
	if p == nil || p.path == "" {
		return nil
	}
	return os.Remove(p.path)
}

// isolatedHome is a scoped, per-invocation home directory: a fresh temp
// directory containing selective symlinks to the whitelisted subset of the
// real home, deleted on close or on error (§4.3).
type isolatedHome struct {
	path string
}

func newIsolatedHome(realHome string) (*isolatedHome, error) {
	dir, err := os.MkdirTemp("", "steroids-home-*")
	if err != nil {
		return nil, fmt.Errorf("provider: create isolated home: %w", err)
	}
	for _, name := range homeWhitelist {
		src := filepath.Join(realHome, name)
		info, err := os.Lstat(src)
		if err != nil {
			continue // not present in the real home; nothing to mirror
		}
		dst := filepath.Join(dir, name)
		if err := mirror(src, dst, info); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("provider: mirror %s: %w", name, err)
		}
	}
	return &isolatedHome{path: dir}, nil
}

func mirror(src, dst string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}
	// Symlinking the real tree in is sufficient isolation for our purposes
	// (the actor CLI only reads these paths) and far cheaper than a deep copy.
	return os.Symlink(src, dst)
}

func (h *isolatedHome) Close() error {
	if h == nil || h.path == "" {
		return nil
	}
	return os.RemoveAll(h.path)
}
