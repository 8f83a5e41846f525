//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Runs go vet on every package.
func (Build) Vet() error {
	return runGo("vet")
}

// Tidies go.mod and regenerates generated sources.
func (Build) Tidy() error {
	if err := runGo("mod tidy", moduleWide()); err != nil {
		return err
	}
	return runGo("generate")
}
