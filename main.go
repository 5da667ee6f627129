package main

import (
	"github.com/BioHazard786/warpcall/cmd"
	"github.com/BioHazard786/warpcall/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
