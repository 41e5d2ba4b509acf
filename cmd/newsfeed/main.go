package main

import (
	"os"

	"horse.fit/newsfeed/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
