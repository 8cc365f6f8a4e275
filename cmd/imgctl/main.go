package main

import "github.com/qxebear/upload-pics/cmd/imgctl/cmd"

func main() {
	cmd.Execute()
}
