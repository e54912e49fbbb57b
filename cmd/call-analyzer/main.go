// Command call-analyzer analyses CRM call recordings.
//
// Usage:
//
//	call-analyzer serve            run the webhook service
//	call-analyzer analyze <file>   analyse one local recording and print the report
//	call-analyzer process <id>     process one CRM activity synchronously
//	call-analyzer backfill         analyse recordings already in the input dir
//	call-analyzer scripts          print the script catalog
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
