// Package main provides the entry point for the mrirecon CLI.
//
// mrirecon loads a pre-trained reconstruction network once and applies it
// to a single grayscale MRI scan, previewing the result on the terminal and
// optionally saving it as an 8-bit image.
//
// Usage:
//
//	mrirecon reconstruct --input scan.png --output recon.png
//	mrirecon session
//
// See --help for all available options.
package main

func main() {
	Execute()
}
