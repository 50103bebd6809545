package main

import (
	"github.com/wave-collector/cmd/agent"
)

func main() {
	agent.Execute()
}
