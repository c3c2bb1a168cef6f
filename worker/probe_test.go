package worker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const versionOutput = `azure-cli                         2.61.0

core                              2.61.0
telemetry                          1.1.0

Python location '/opt/az/bin/python3'
`

func TestParseVersion(t *testing.T) {
	tests := []struct {
		output string
		want   string
		ok     bool
	}{
		{versionOutput, "2.61.0", true},
		{"azure-cli (2.0.5)\n", "2.0.5", true},
		{"azure-cli 2.0.4 *\n", "2.0.4", true},
		{"something else", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		v, ok := ParseVersion(tt.output)
		assert.Equal(t, tt.ok, ok, tt.output)
		if ok {
			assert.Equal(t, tt.want, v.String())
		}
	}
}

func TestCheckVersion(t *testing.T) {
	v, err := CheckVersion(versionOutput, "2.0.5")
	require.NoError(t, err)
	assert.Equal(t, "2.61.0", v.String())

	_, err = CheckVersion("azure-cli (2.0.4)", "2.0.5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
	assert.True(t, IsInstallProblem(err))
	var uv *UnsupportedVersionError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, "2.0.4", uv.Found)
	assert.Equal(t, "2.0.5", uv.Minimum)
	assert.Contains(t, Hint(err), "2.0.5")

	_, err = CheckVersion("garbage", "2.0.5")
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func TestProbeTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	dir := t.TempDir()
	writeScript(t, filepath.Join(dir, "az"), "#!/bin/sh\necho 'azure-cli                         2.61.0'\n")
	writeScript(t, filepath.Join(dir, "az-old"), "#!/bin/sh\necho 'azure-cli (2.0.1)'\n")
	t.Setenv("PATH", dir)

	info, err := ProbeTool(context.Background(), "az", "2.0.5")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "az"), info.Path)
	assert.Equal(t, "2.61.0", info.Version.String())

	_, err = ProbeTool(context.Background(), "az-old", "2.0.5")
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))

	_, err = ProbeTool(context.Background(), "az-missing", "2.0.5")
	assert.True(t, errors.Is(err, ErrToolNotFound))
	assert.True(t, IsInstallProblem(err))
	assert.Contains(t, Hint(err), "aka.ms/azure-cli")
}

func TestDeriveEnvFromLauncher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix layout")
	}
	root := t.TempDir()
	python := filepath.Join(root, "opt", "az", "bin", "python3")
	writeScript(t, python, "")
	site := filepath.Join(root, "opt", "az", "lib", "python3.11", "site-packages")
	require.NoError(t, os.MkdirAll(site, 0o755))

	launcher := filepath.Join(root, "usr", "bin", "az")
	writeScript(t, launcher, "#!/usr/bin/env bash\n"+python+" -Im azure.cli \"$@\"\n")

	env, ok := DeriveEnv(launcher)
	require.True(t, ok)
	assert.Equal(t, python, env.Python)
	assert.Equal(t, site, env.SitePackages)
}

func TestDeriveEnvFromLayout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix layout")
	}
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	writeScript(t, filepath.Join(root, "libexec", "bin", "python3"), "")
	site := filepath.Join(root, "libexec", "lib", "python3.12", "site-packages")
	require.NoError(t, os.MkdirAll(site, 0o755))
	az := filepath.Join(root, "bin", "az")
	writeScript(t, az, "#!/bin/sh\nexec something\n")

	link := filepath.Join(t.TempDir(), "az")
	require.NoError(t, os.Symlink(az, link))

	env, ok := DeriveEnv(link)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "libexec", "bin", "python3"), env.Python)
	assert.Equal(t, site, env.SitePackages)
}

func TestDeriveEnvMissing(t *testing.T) {
	_, ok := DeriveEnv(filepath.Join(t.TempDir(), "nowhere", "az"))
	assert.False(t, ok)
}

func TestPrependPath(t *testing.T) {
	sep := string(os.PathListSeparator)
	assert.Equal(t, "a"+sep+"b"+sep+"old", prependPath("old", "a", "", "b"))
	assert.Equal(t, "a", prependPath("", "a"))
	assert.Equal(t, "", prependPath(""))
}
