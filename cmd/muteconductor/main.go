package main

import "github.com/IDisposable/mutegrid"

func main() {
	mutegrid.ConductorMain()
}
