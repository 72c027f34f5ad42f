package main

import "github.com/utxobroker/dutchbroker/cmd/auctiond/cmd"

func main() {
	cmd.Execute()
}
