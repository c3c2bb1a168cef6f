package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
)

// ToolInfo describes a probed az installation.
type ToolInfo struct {
	Path    string
	Version *semver.Version
}

var versionPattern = regexp.MustCompile(`azure-cli\s+\(?(\d+\.\d+\.\d+)`)

// ParseVersion extracts the azure-cli version from `az --version` output.
func ParseVersion(output string) (*semver.Version, bool) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, false
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return nil, false
	}
	return v, true
}

// CheckVersion verifies output reports at least minimum.
func CheckVersion(output, minimum string) (*semver.Version, error) {
	c, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid minimum version %q", minimum)
	}
	v, ok := ParseVersion(output)
	if !ok {
		return nil, unsupportedVersion("", minimum)
	}
	if !c.Check(v) {
		return nil, unsupportedVersion(v.String(), minimum)
	}
	return v, nil
}

// ProbeTool locates tool on PATH and checks its self-reported version.
func ProbeTool(ctx context.Context, tool, minimum string) (*ToolInfo, error) {
	path, err := exec.LookPath(tool)
	if err != nil {
		return nil, toolNotFound(tool, err)
	}
	// az --version may exit non-zero when updates are available; the output is
	// still authoritative.
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil && len(out) == 0 {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, toolNotFound(tool, err)
	}
	v, err := CheckVersion(string(out), minimum)
	if err != nil {
		return nil, err
	}
	return &ToolInfo{Path: path, Version: v}, nil
}

// PythonEnv is the interpreter setup derived from an az installation.
type PythonEnv struct {
	Python       string
	SitePackages string
}

var launcherPattern = regexp.MustCompile(`(?m)(\S*python[0-9.]*(?:\.exe)?)"?\s+-\w*m\s+azure\.cli`)

// DeriveEnv locates the interpreter and package directory bundled with the
// az executable at azPath. It reports false when no bundled interpreter
// could be identified.
func DeriveEnv(azPath string) (PythonEnv, bool) {
	resolved, err := filepath.EvalSymlinks(azPath)
	if err != nil {
		resolved = azPath
	}

	var env PythonEnv
	if python := launcherPython(resolved); python != "" {
		env.Python = python
		env.SitePackages = findSitePackages(filepath.Dir(filepath.Dir(python)))
		if env.SitePackages == "" {
			env.SitePackages = findSitePackages(filepath.Dir(python))
		}
		return env, true
	}

	binDir := filepath.Dir(resolved)
	for _, root := range []string{
		filepath.Dir(binDir),
		filepath.Join(filepath.Dir(binDir), "libexec"),
		binDir,
	} {
		python := findPython(root)
		if python == "" {
			continue
		}
		return PythonEnv{Python: python, SitePackages: findSitePackages(root)}, true
	}
	return env, false
}

// launcherPython reads an az launcher script for the interpreter it runs.
func launcherPython(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.Size() > 64*1024 {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	m := launcherPattern.FindSubmatch(data)
	if m == nil {
		return ""
	}
	python := strings.Trim(string(m[1]), `@"`)
	if runtime.GOOS == "windows" {
		python = strings.ReplaceAll(python, "%~dp0", filepath.Dir(path)+string(filepath.Separator))
	}
	python = filepath.Clean(python)
	if !filepath.IsAbs(python) {
		return ""
	}
	if _, err := os.Stat(python); err != nil {
		return ""
	}
	return python
}

func findPython(root string) string {
	candidates := []string{
		filepath.Join(root, "bin", "python3"),
		filepath.Join(root, "bin", "python"),
		filepath.Join(root, "python.exe"),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

func findSitePackages(root string) string {
	patterns := []string{
		filepath.Join(root, "lib", "python3*", "site-packages"),
		filepath.Join(root, "Lib", "site-packages"),
	}
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				return m
			}
		}
	}
	return ""
}

// prependPath adds dirs to the front of an os.PathListSeparator list.
func prependPath(existing string, dirs ...string) string {
	var parts []string
	for _, d := range dirs {
		if d != "" {
			parts = append(parts, d)
		}
	}
	if existing != "" {
		parts = append(parts, existing)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}
