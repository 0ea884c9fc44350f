package main

import (
	"github.com/blocksprint/relay/app/tooling/relayadmin/cmd"
)

func main() {
	cmd.Execute()
}
