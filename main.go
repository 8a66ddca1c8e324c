package main

import "github.com/TomSft15/BlurFace/cmd"

func main() {
	cmd.Execute()
}
