package main

import "github.com/bunnylabs/bunny-s3-proxy/cmd/bunny-s3-proxy/cli"

func main() {
	cli.ParseFlags()

	if cli.Flags.ShowVersion {
		cli.ShowVersion()
		return
	}

	cli.Serve()
}
