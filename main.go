package main

import "github.com/bunchuq1122/COL-BOT/cmd"

func main() {
	cmd.Execute()
}
