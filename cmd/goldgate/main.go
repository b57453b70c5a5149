// Command goldgate is the policy gate and golden-test promotion CLI.
package main

import "github.com/jvs-project/goldgate/internal/cli"

func main() {
	cli.Execute()
}
