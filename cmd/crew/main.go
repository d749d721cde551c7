// Command crew drives a project from a description to tracked, implemented
// and verified tasks.
package main

func main() {
	Execute()
}
