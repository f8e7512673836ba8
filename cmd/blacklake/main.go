package main

import "github.com/blacklakehq/blacklake/cmd/blacklake/cmd"

func main() {
	cmd.Execute()
}
