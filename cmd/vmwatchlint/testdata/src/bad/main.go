package main

import (
	"log"
	"os"
	"os/exec"
)

func main() {
	doSomething()
	os.Exit(0)
}

func doSomething() {
	panic("not allowed") // want "found usage of panic"

	log.Fatal("not allowed") // want "found usage of log.Fatal outside of main function"

	os.Exit(1) // want "found usage of os.Exit outside of main function"

	_ = exec.Command("true") // want "found usage of exec.Command outside of the command package"
}
