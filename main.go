package main

import "github.com/kamilpajak/failtriage/cmd/failtriage"

func main() {
	failtriage.Execute()
}
