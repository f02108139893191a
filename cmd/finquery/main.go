package main

import "finquery/cmd/finquery/cmd"

func main() {
	cmd.Execute()
}
