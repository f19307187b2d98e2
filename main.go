package main

import (
	"github.com/quantmesh/QuorumGo/internal/cli"
)

func main() {
	cli.Run()
}
