// Horros - Stopped Instance Inventory
// Find what stopped and never came back.
package main

import (
	// Register cloud providers.
	_ "github.com/yairfalse/horros/providers/aws"
	_ "github.com/yairfalse/horros/providers/azure"
	_ "github.com/yairfalse/horros/providers/gcp"
	_ "github.com/yairfalse/horros/providers/oci"
)

func main() {
	Execute()
}
