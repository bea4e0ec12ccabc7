// Package scaffold materializes the fixed GitOps
// directory layout a deployment tool expects per
// product, environment, and customer:
//
//	gitops/<product>/<env>/customers/instances/
//
// plus placeholder values/customer files and an optional
// ApplicationSet descriptor.
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/valyala/fasttemplate"
)

const (
	// placeholderCustomer names the instance file when
	// no customer is given.
	placeholderCustomer = "example"

	filePerm = 0o644
	dirPerm  = 0o755
)

// valuesTemplate is the per-environment default values
// placeholder.
const valuesTemplate = `# Default values for {{PRODUCT}} ({{ENVIRONMENT}}).
product: {{PRODUCT}}
environment: {{ENVIRONMENT}}
replicas: 1
`

// customerTemplate is the per-customer instance
// placeholder.
const customerTemplate = `customer: {{CUSTOMER}}
product: {{PRODUCT}}
environment: {{ENVIRONMENT}}
enabled: false
`

// Options selects what to generate.
type Options struct {
	// Product is the product name; first path segment
	// under gitops/.
	Product string

	// Environments are the environment names to lay
	// out.
	Environments []string

	// Customer names the placeholder instance file;
	// empty means a generic example instance.
	Customer string

	// RepoURL is embedded in the ApplicationSet git
	// generator.
	RepoURL string

	// GenerateApplicationSet writes an ApplicationSet
	// descriptor per environment.
	GenerateApplicationSet bool
}

// Result reports what was generated. Err is a
// display-ready message; it is set exactly when Success
// is false.
type Result struct {
	Success      bool
	CreatedPaths []string
	Err          string
}

// applicationSet is the minimal descriptor a deployment
// tool consumes; serialized with go-yaml.
type applicationSet struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   appSetMeta `yaml:"metadata"`
	Spec       appSetSpec `yaml:"spec"`
}

type appSetMeta struct {
	Name string `yaml:"name"`
}

type appSetSpec struct {
	Generators []generator `yaml:"generators"`
}

type generator struct {
	Git gitGenerator `yaml:"git"`
}

type gitGenerator struct {
	RepoURL     string      `yaml:"repoURL"`
	Revision    string      `yaml:"revision"`
	Directories []directory `yaml:"directories"`
}

type directory struct {
	Path string `yaml:"path"`
}

// Generate writes the scaffold under repoPath and
// reports the created paths (relative to repoPath).
func Generate(repoPath string, opts Options) Result {
	if opts.Product == "" {
		return Result{Err: "product must be set"}
	}

	if len(opts.Environments) == 0 {
		return Result{
			Err: "at least one environment must be set",
		}
	}

	var created []string

	for _, env := range opts.Environments {
		paths, err := generateEnvironment(
			repoPath, env, opts,
		)
		if err != nil {
			return Result{
				CreatedPaths: created,
				Err:          err.Error(),
			}
		}

		created = append(created, paths...)
	}

	return Result{
		Success:      true,
		CreatedPaths: created,
	}
}

// generateEnvironment writes one environment's subtree.
func generateEnvironment(
	repoPath string,
	env string,
	opts Options,
) ([]string, error) {
	const errCtx = "generating environment scaffold"

	envRel := filepath.Join(
		"gitops", opts.Product, env,
	)
	instancesRel := filepath.Join(
		envRel, "customers", "instances",
	)

	if err := os.MkdirAll(
		filepath.Join(repoPath, instancesRel), dirPerm,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: create dirs: %w", errCtx, err,
		)
	}

	vars := map[string]any{
		"PRODUCT":     opts.Product,
		"ENVIRONMENT": env,
		"CUSTOMER":    customerName(opts.Customer),
	}

	var created []string

	write := func(rel string, content []byte) error {
		if err := os.WriteFile(
			filepath.Join(repoPath, rel),
			content,
			filePerm,
		); err != nil {
			return fmt.Errorf(
				"%s: write %s: %w", errCtx, rel, err,
			)
		}

		created = append(created, rel)

		return nil
	}

	keepRel := filepath.Join(instancesRel, ".gitkeep")
	if err := write(keepRel, nil); err != nil {
		return nil, err
	}

	valuesRel := filepath.Join(envRel, "values.yaml")
	if err := write(valuesRel, render(
		valuesTemplate, vars,
	)); err != nil {
		return nil, err
	}

	customerRel := filepath.Join(
		instancesRel,
		customerName(opts.Customer)+".yaml",
	)
	if err := write(customerRel, render(
		customerTemplate, vars,
	)); err != nil {
		return nil, err
	}

	if !opts.GenerateApplicationSet {
		return created, nil
	}

	appSet := applicationSet{
		APIVersion: "argoproj.io/v1alpha1",
		Kind:       "ApplicationSet",
		Metadata: appSetMeta{
			Name: opts.Product + "-" + env,
		},
		Spec: appSetSpec{
			Generators: []generator{{
				Git: gitGenerator{
					RepoURL:  opts.RepoURL,
					Revision: env,
					Directories: []directory{{
						Path: instancesRel + "/*",
					}},
				},
			}},
		},
	}

	raw, err := yaml.Marshal(appSet)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: marshal applicationset: %w",
			errCtx, err,
		)
	}

	appSetRel := filepath.Join(
		envRel, "applicationset.yaml",
	)
	if err := write(appSetRel, raw); err != nil {
		return nil, err
	}

	return created, nil
}

// render substitutes {{VAR}} placeholders in tpl.
func render(tpl string, vars map[string]any) []byte {
	t := fasttemplate.New(tpl, "{{", "}}")

	return []byte(t.ExecuteString(vars))
}

// customerName returns the placeholder name when no
// customer is given.
func customerName(customer string) string {
	if customer == "" {
		return placeholderCustomer
	}

	return customer
}
