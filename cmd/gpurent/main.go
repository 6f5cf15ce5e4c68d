package main

import (
	_ "gpurent/internal/command/auto"
	_ "gpurent/internal/command/destroy"
	_ "gpurent/internal/command/instances"
	_ "gpurent/internal/command/list"
	_ "gpurent/internal/command/reserve"
	"gpurent/internal/command/root"
	_ "gpurent/internal/command/run"
)

func main() {
	root.Execute()
}
