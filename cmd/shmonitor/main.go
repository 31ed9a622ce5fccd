package main

import "github.com/example/secondhand-monitor/cmd"

func main() {
	cmd.Execute()
}
