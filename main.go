package main

import (
	"github.com/abe-nagisa/zip64/cmd"
)

func main() {
	cmd.Execute()
}
