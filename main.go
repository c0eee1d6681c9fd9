// ./main.go
package main

import (
	"github.com/nakurity/neurodesk/cmd"
)

// main is the entry point for the neurodesk CLI.
func main() {
	cmd.Execute()
}
