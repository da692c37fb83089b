package main

import "github.com/luojunlin1223/VibeVtuber/cmd"

func main() {
	cmd.Execute()
}
