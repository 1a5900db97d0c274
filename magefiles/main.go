//go:build mage

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// BootstrapTools installs the tools listed in tools.yaml into ./bin.
func BootstrapTools() error {
	mg.Deps(goCheck, makeLocalBin)
	type ToolsList struct {
		Tools []string
	}

	tools := &ToolsList{}
	if err := readYaml("tools.yaml", tools); err != nil {
		return err
	}
	for _, tool := range tools.Tools {
		if err := sh.RunWithV(map[string]string{"GOBIN": LocalBin}, goBinary(), "install", tool); err != nil {
			return err
		}
	}
	return nil
}

// Build compiles the indexab binary into ./bin.
func Build() error {
	mg.Deps(goCheck, makeLocalBin)
	timeTaken := time.Now()
	if err := sh.RunV(goBinary(), "build", "-o", LocalBin+"/"+binaryWithExt("indexab"), "./cmd/indexab"); err != nil {
		return err
	}
	fmt.Println("Time to build:", time.Since(timeTaken))
	return nil
}

// Check dependent tools are present and the correct version.
func CheckDeps() error {
	checks := []struct {
		name  string
		check func() error
	}{
		{"docker", dockerCheck},
		{"go", goCheck},
		{"golangci-lint", golangciLintCheck},
	}
	failures := false
	for _, check := range checks {
		fmt.Printf("Checking %s... ", check.name)
		if err := check.check(); err != nil {
			fmt.Printf("FAILED\nReason: %v\n", err)
			failures = true
		} else {
			fmt.Println("PASSED")
		}
	}
	if failures {
		return errors.New("check(s) failed.")
	}
	return nil
}

// Removes build output and test reports.
func Clean() {
	fmt.Println("Cleaning...")
	for _, path := range []string{"bin", "test_reports"} {
		os.RemoveAll(path)
	}
}

// readYaml reads a yaml file and unmarshalls the result into out
func readYaml(filename string, out interface{}) error {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	return yaml.Unmarshal(bytes, out)
}
