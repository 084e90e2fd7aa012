package main

import "github.com/frahmantamala/vpn-billing/cmd"

func main() {
	cmd.Execute()
}
