package main

import (
	"github.com/mchmarny/regretguard/pkg/cli"
)

func main() {
	cli.Execute()
}
