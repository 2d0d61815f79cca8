package main

import "github.com/andresmejia3/facemark/cmd"

func main() {
	cmd.Execute()
}
