package main

import "github.com/audiolibrelab/videorecorder/cmd"

func main() {
	cmd.Execute()
}
