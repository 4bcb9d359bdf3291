package main

import (
	"github.com/sting-chat/sting-cache/cmd"
)

func main() {
	cmd.Execute()
}
