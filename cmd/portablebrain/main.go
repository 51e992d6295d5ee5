package main

import "github.com/smkim0508/Portable-Brain/cmd"

func main() {
	cmd.Execute()
}
