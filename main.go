package main

import "github.com/etiennebl/hilolink/cmd"

func main() {
	cmd.Execute()
}
