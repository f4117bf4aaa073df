package main

import "github.com/vietphim/catalogd/cmd"

func main() {
	cmd.Execute()
}
