package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Exposure describes how git treats files holding passync key material.
type Exposure struct {
	IsRepo    bool
	Tracked   []string // committed or staged (bad)
	Unignored []string // not in .gitignore, would be picked up by git add (warning)
}

// Exposed reports whether any file could end up in the repository.
func (e *Exposure) Exposed() bool {
	return len(e.Tracked) > 0 || len(e.Unignored) > 0
}

// IsGitRepo checks if the working directory is inside a git repository
func IsGitRepo(workDir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = workDir
	err := cmd.Run()
	return err == nil
}

// IsTracked checks if a file is tracked by git
func IsTracked(workDir, path string) bool {
	cmd := exec.Command("git", "ls-files", "--", path)
	cmd.Dir = workDir
	output, err := cmd.Output()

	if err != nil {
		return false
	}

	return len(strings.TrimSpace(string(output))) > 0
}

// IsIgnored checks if a file is ignored by git (handles all .gitignore files)
func IsIgnored(workDir, path string) bool {
	cmd := exec.Command("git", "check-ignore", "-q", "--", path)
	cmd.Dir = workDir
	err := cmd.Run()

	// git check-ignore returns exit code 0 if file is ignored
	return err == nil
}

// CheckExposure checks each path against the git repository containing it.
// Paths outside any repository are skipped.
func CheckExposure(paths []string) *Exposure {
	exposure := &Exposure{}
	for _, path := range paths {
		dir := filepath.Dir(path)
		if !IsGitRepo(dir) {
			continue
		}
		exposure.IsRepo = true

		name := filepath.Base(path)
		if IsTracked(dir, name) {
			exposure.Tracked = append(exposure.Tracked, path)
		} else if !IsIgnored(dir, name) {
			exposure.Unignored = append(exposure.Unignored, path)
		}
	}
	return exposure
}

// FormatExposure formats the findings for display. It returns "" when
// nothing is exposed.
func FormatExposure(e *Exposure) string {
	if !e.Exposed() {
		return ""
	}

	var result strings.Builder
	result.WriteString("\nGit:\n")
	for _, file := range e.Tracked {
		result.WriteString(fmt.Sprintf("   error: %s is tracked by git (run: git rm --cached %s)\n", file, filepath.Base(file)))
	}
	for _, file := range e.Unignored {
		result.WriteString(fmt.Sprintf("   warning: %s not in .gitignore (add to .gitignore)\n", file))
	}
	return result.String()
}
