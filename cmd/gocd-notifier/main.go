package main

import "github.com/davarch/gocd-notifier/cmd/gocd-notifier/cli"

func main() {
	cli.Execute()
}
