// Command teamtrace reconstructs per-thread activity timelines from captures of the OMPT instrumentation layer.
package main

func main() {
	Execute()
}
