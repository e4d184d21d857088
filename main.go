package main

import "github.com/AzielCF/az-wap-broadcast/cmd"

func main() {
	cmd.Execute()
}
