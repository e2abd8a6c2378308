package main

import (
	"soundproof/cmd"
)

func main() {
	cmd.Execute()
}
