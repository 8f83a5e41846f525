//go:build mage

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	allPackages  = "./..."
	corePackages = "./engine/renderer/vulkan/..."
)

// goInvocation is one run of the go tool. The frame core calls into the
// Vulkan loader through cgo, so every run has cgo enabled.
type goInvocation struct {
	verb     []string
	flags    []string
	packages []string
	env      map[string]string
}

type goOption func(*goInvocation)

// withRace turns on the race detector.
func withRace() goOption {
	return func(g *goInvocation) {
		g.flags = append(g.flags, "-race")
	}
}

// uncached bypasses the test cache.
func uncached() goOption {
	return func(g *goInvocation) {
		g.flags = append(g.flags, "-count=1")
	}
}

func forPackages(packages ...string) goOption {
	return func(g *goInvocation) {
		g.packages = packages
	}
}

// moduleWide is for verbs such as "mod tidy" that take no package pattern.
func moduleWide() goOption {
	return func(g *goInvocation) {
		g.packages = nil
	}
}

func (g *goInvocation) args() []string {
	args := append([]string{}, g.verb...)
	args = append(args, g.flags...)
	return append(args, g.packages...)
}

func runGo(verb string, options ...goOption) error {
	g := &goInvocation{
		verb:     strings.Fields(verb),
		packages: []string{allPackages},
		env:      map[string]string{"CGO_ENABLED": "1"},
	}
	for _, o := range options {
		o(g)
	}
	args := g.args()
	fmt.Printf("Executing: %s %s\n", mg.GoCmd(), strings.Join(args, " "))
	if err := sh.RunWithV(g.env, mg.GoCmd(), args...); err != nil {
		return fmt.Errorf("go %s failed: %w", verb, err)
	}
	return nil
}
