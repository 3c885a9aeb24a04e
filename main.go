package main

import (
	"github.com/marianovz/wa-blast/cmd"
)

func main() {
	cmd.Execute()
}
