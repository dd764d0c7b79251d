package main

import (
	"github.com/buybotsolana/LAYER-2-COMPLETE/cmd/loadtest/cmd"
)

func main() {
	cmd.Execute()
}
