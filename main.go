// Command vnforms runs the Vietnamese administrative form pipeline: crawler,
// form-understanding worker, and the session API server.
package main

import (
	"log"
	"os"

	"vnforms.dev/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
