package main

import (
	"os"

	"github.com/G-Research/indexab/cmd/indexab/cmd"
	"github.com/G-Research/indexab/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
