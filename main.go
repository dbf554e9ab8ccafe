// The main package for the courtharvest executable.
package main

import (
	"github.com/uzadolat/courtharvest/cmd"
)

func main() {
	cmd.Execute()
}
