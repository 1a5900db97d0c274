//go:build mage

package main

import (
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	postgresContainer    = "indexab-postgres"
	postgresPassword     = "psw"
	postgresReadyTimeout = time.Minute
	postgresPollInterval = time.Second
)

// Tests runs the unit tests.
func Tests() error {
	mg.Deps(goCheck)
	return sh.RunV(goBinary(), "test", "-race", "./...")
}

// IntegrationTests starts a throwaway Postgres in docker and runs every test against it.
func IntegrationTests() (err error) {
	mg.Deps(goCheck, dockerCheck)

	err = dockerRun("run", "-d", "--name="+postgresContainer, "-p", "5432:5432",
		"-e", "POSTGRES_PASSWORD="+postgresPassword, "postgres:14.2")
	if err != nil {
		return err
	}
	defer func() {
		if dockerErr := dockerRun("rm", "-f", postgresContainer); dockerErr != nil && err == nil {
			err = dockerErr
		}
	}()

	if err = waitForPostgres(); err != nil {
		return err
	}

	env := map[string]string{
		"INDEXAB_TEST_POSTGRES": fmt.Sprintf(
			"host=localhost port=5432 user=postgres password=%s dbname=postgres sslmode=disable", postgresPassword),
	}
	return sh.RunWithV(env, goBinary(), "test", "-count=1", "./...")
}

// Runs golangci-lint over the module.
func CheckLint() error {
	mg.Deps(golangciLintCheck)
	output, err := sh.Output(binaryWithExt("golangci-lint"), "run", "--timeout", "10m")
	fmt.Println(output)
	return err
}

// waitForPostgres polls pg_isready inside the container until the server accepts connections.
func waitForPostgres() error {
	fmt.Println("Waiting for postgres to start...")
	return retry.Do(
		func() error {
			return dockerRun("exec", postgresContainer, "pg_isready", "-U", "postgres", "-h", "localhost")
		},
		retry.Attempts(uint(postgresReadyTimeout/postgresPollInterval)),
		retry.Delay(postgresPollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}
