// File: main.go
package main

import (
	"github.com/lmline/lmline/cmd"
)

func main() {
	cmd.Execute()
}
