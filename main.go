package main

import "smsform/cmd"

func main() {
	cmd.Execute()
}
