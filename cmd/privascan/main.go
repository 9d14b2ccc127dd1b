package main

import "github.com/gouthamgo/privascan/internal/cli"

func main() {
	cli.Execute()
}
