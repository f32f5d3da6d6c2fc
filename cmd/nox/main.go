package main

import (
	"github.com/noxd/nox/internal/cli"
)

func main() {
	cli.Execute()
}
