package main

import "ssm-tunnel/cmd"

func main() {
	cmd.Execute()
}
