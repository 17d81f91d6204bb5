// Binary schedpipe runs the schedule scrape pipeline CLI.
package main

import "github.com/JakeFAU/schedule-pipeline/cmd"

func main() {
	cmd.Execute()
}
