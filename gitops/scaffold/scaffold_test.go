package scaffold_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/gitops_forge/gitops/scaffold"
)

func TestGenerate_layout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	result := scaffold.Generate(dir, scaffold.Options{
		Product:      "billing",
		Environments: []string{"dev", "sit"},
		Customer:     "acme",
	})

	require.True(t, result.Success, result.Err)
	assert.Empty(t, result.Err)

	wantPaths := []string{
		"gitops/billing/dev/customers/instances/.gitkeep",
		"gitops/billing/dev/values.yaml",
		"gitops/billing/dev/customers/instances/acme.yaml",
		"gitops/billing/sit/customers/instances/.gitkeep",
		"gitops/billing/sit/values.yaml",
		"gitops/billing/sit/customers/instances/acme.yaml",
	}
	assert.Equal(
		t, wantPaths, result.CreatedPaths,
	)

	for _, rel := range wantPaths {
		_, err := os.Stat(filepath.Join(dir, rel))
		assert.NoError(t, err, rel)
	}

	values, err := os.ReadFile(filepath.Join(
		dir, "gitops/billing/dev/values.yaml",
	))
	require.NoError(t, err)
	assert.Contains(t, string(values), "product: billing")
	assert.Contains(t, string(values), "environment: dev")

	customer, err := os.ReadFile(filepath.Join(
		dir,
		"gitops/billing/dev/customers/instances",
		"acme.yaml",
	))
	require.NoError(t, err)
	assert.Contains(t, string(customer), "customer: acme")
}

func TestGenerate_without_customer_uses_example(
	t *testing.T,
) {
	t.Parallel()

	dir := t.TempDir()

	result := scaffold.Generate(dir, scaffold.Options{
		Product:      "billing",
		Environments: []string{"dev"},
	})

	require.True(t, result.Success, result.Err)
	assert.Contains(
		t,
		result.CreatedPaths,
		"gitops/billing/dev/customers/instances"+
			"/example.yaml",
	)
}

func TestGenerate_application_set(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	result := scaffold.Generate(dir, scaffold.Options{
		Product:      "billing",
		Environments: []string{"dev"},
		RepoURL: "https://git.example.com" +
			"/acme/deploy.git",
		GenerateApplicationSet: true,
	})

	require.True(t, result.Success, result.Err)
	assert.Contains(
		t,
		result.CreatedPaths,
		"gitops/billing/dev/applicationset.yaml",
	)

	raw, err := os.ReadFile(filepath.Join(
		dir, "gitops/billing/dev/applicationset.yaml",
	))
	require.NoError(t, err)

	var appSet struct {
		APIVersion string `yaml:"apiVersion"`
		Kind       string `yaml:"kind"`
		Metadata   struct {
			Name string `yaml:"name"`
		} `yaml:"metadata"`
		Spec struct {
			Generators []struct {
				Git struct {
					RepoURL     string `yaml:"repoURL"`
					Revision    string `yaml:"revision"`
					Directories []struct {
						Path string `yaml:"path"`
					} `yaml:"directories"`
				} `yaml:"git"`
			} `yaml:"generators"`
		} `yaml:"spec"`
	}

	require.NoError(t, yaml.Unmarshal(raw, &appSet))

	assert.Equal(
		t, "argoproj.io/v1alpha1", appSet.APIVersion,
	)
	assert.Equal(t, "ApplicationSet", appSet.Kind)
	assert.Equal(t, "billing-dev", appSet.Metadata.Name)

	require.Len(t, appSet.Spec.Generators, 1)
	git := appSet.Spec.Generators[0].Git
	assert.Equal(
		t,
		"https://git.example.com/acme/deploy.git",
		git.RepoURL,
	)
	assert.Equal(t, "dev", git.Revision)
	require.Len(t, git.Directories, 1)
	assert.Equal(
		t,
		"gitops/billing/dev/customers/instances/*",
		git.Directories[0].Path,
	)
}

func TestGenerate_validation(t *testing.T) {
	t.Parallel()

	result := scaffold.Generate(
		t.TempDir(),
		scaffold.Options{
			Environments: []string{"dev"},
		},
	)
	assert.False(t, result.Success)
	assert.Equal(t, "product must be set", result.Err)

	result = scaffold.Generate(
		t.TempDir(),
		scaffold.Options{Product: "billing"},
	)
	assert.False(t, result.Success)
	assert.Equal(
		t,
		"at least one environment must be set",
		result.Err,
	)
}
