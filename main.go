package main

import "github.com/DominicWuest/backbuild/cmd"

func main() {
	cmd.Execute()
}
