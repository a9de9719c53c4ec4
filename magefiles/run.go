//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Streams ./assets on the headless device for 120 frames.
func (Run) Headless() error {
	fmt.Println("Run headless streaming...")
	if _, err := executeCmd("go", withArgs("run", ".", "-assets", "assets", "-frames", "120"), withStream()); err != nil {
		return err
	}
	return nil
}

// Streams ./assets with the capabilities of the local Vulkan device.
func (Run) Probe() error {
	mg.Deps(Build.Binary)
	if _, err := executeCmd("bin/anima-stream", withArgs("-probe", "-frames", "120"), withStream()); err != nil {
		return err
	}
	return nil
}
