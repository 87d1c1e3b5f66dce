package main

import (
	"go-eodms-download/cmd/eodms-download/cmd"
)

func main() {
	cmd.Execute()
}
