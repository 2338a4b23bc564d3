//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Renders the testbed with the software device.
func (Run) Testbed() error {
	fmt.Println("Run testbed...")
	return runTestbed("soft")
}

// Renders the testbed headless on the first Vulkan device.
func (Run) Vulkan() error {
	fmt.Println("Run testbed on vulkan...")
	return runTestbed("vulkan")
}

func runTestbed(backend string) error {
	_, err := executeCmd("go", withArgs("run", ".", "-config", "rei.toml", "-backend", backend), withStream())
	return err
}
