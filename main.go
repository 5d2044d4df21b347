package main

import "github.com/andresmejia3/facevec/cmd"

func main() {
	cmd.Execute()
}
