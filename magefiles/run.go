//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs every test once.
func (Run) Tests() error {
	fmt.Println("Run tests...")
	return runGo("test")
}

// Runs every test with the race detector. The recording workers and the
// timeline pool are exercised from several goroutines.
func (Run) Race() error {
	mg.Deps(Build.Vet)
	fmt.Println("Run tests with the race detector...")
	return runGo("test", withRace(), uncached())
}

// Runs the tests of the frame core package only.
func (Run) Core() error {
	return runGo("test", withRace(), forPackages(corePackages))
}
