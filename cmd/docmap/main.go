// Package main is the entry point for the docmap CLI.
package main

func main() {
	Execute()
}
