package main

import "github.com/LiboWorks/screenflow/cmd"

func main() {
	cmd.Execute()
}
