//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

const (
	GO_VERSION_CONSTRAINT            = ">= 1.18.0"
	DOCKER_VERSION_CONSTRAINT        = ">= 19.0.0"
	GOLANGCI_LINT_VERSION_CONSTRAINT = ">= 1.52.0"
)

var LocalBin = filepath.Join(os.Getenv("PWD"), "bin")

func makeLocalBin() error {
	return os.MkdirAll(LocalBin, os.ModePerm)
}

func binaryWithExt(name string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("%s.exe", name)
	}
	return name
}

func goBinary() string {
	return binaryWithExt("go")
}

func dockerBinary() string {
	return binaryWithExt("docker")
}

func dockerRun(args ...string) error {
	return sh.Run(dockerBinary(), args...)
}

func goCheck() error {
	return checkVersion(goBinary(), GO_VERSION_CONSTRAINT, func(output string) (string, error) {
		// go version go1.20.3 linux/amd64
		fields := strings.Fields(output)
		if len(fields) < 3 {
			return "", errors.Errorf("unexpected version cmd output: %s", output)
		}
		return strings.TrimPrefix(fields[2], "go"), nil
	}, "version")
}

func dockerCheck() error {
	return checkVersion(dockerBinary(), DOCKER_VERSION_CONSTRAINT, func(output string) (string, error) {
		// Docker version 24.0.2, build cb74dfc
		fields := strings.Fields(output)
		if len(fields) < 3 {
			return "", errors.Errorf("unexpected version cmd output: %s", output)
		}
		return strings.Trim(fields[2], ","), nil
	}, "--version")
}

func golangciLintCheck() error {
	return checkVersion(binaryWithExt("golangci-lint"), GOLANGCI_LINT_VERSION_CONSTRAINT, func(output string) (string, error) {
		// golangci-lint has version 1.52.2 built with ...
		fields := strings.Fields(output)
		if len(fields) < 4 {
			return "", errors.Errorf("unexpected version cmd output: %s", output)
		}
		return strings.TrimPrefix(fields[3], "v"), nil
	}, "--version")
}

// checkVersion runs binary with args and checks the version extracted from its output against constraint.
func checkVersion(binary, constraint string, extract func(string) (string, error), args ...string) error {
	output, err := sh.Output(binary, args...)
	if err != nil {
		return errors.Errorf("error running version cmd: %v", err)
	}
	raw, err := extract(output)
	if err != nil {
		return err
	}
	version, err := semver.NewVersion(raw)
	if err != nil {
		return errors.Errorf("error parsing version: %v", err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Errorf("error parsing constraint: %v", err)
	}
	if !c.Check(version) {
		return errors.Errorf("found version %v but it failed constraint %v", version, c)
	}
	return nil
}
