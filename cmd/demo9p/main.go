// demo9p serves a directory over 9P and turns the movie captures a game
// writes into it (numbered TGA frames plus a WAV stream) into PNG and WAV
// files in an output directory, without the raw capture touching the disk.
//
// Usage:
//
//	demo9p serve --backing ./game --output ./movies --addr :5640
//
// Mount with:
//
//	9pfuse localhost:5640 /mnt/game
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
